/*
Package template expands ${name} placeholders in prompt and configuration
strings.

Only the brace form is recognized. Prompts routinely contain a bare "$"
(prices, shell snippets), so $name is left alone.

	out, err := template.NewExpander(template.WithMissingAction(template.MissingError)).
	    Expand("Summary:\n${summary}", map[string]string{"summary": s})

A lookup function can supply values that are not in the map, for example
the process environment when expanding MCP server arguments:

	exp := template.NewExpander(template.WithLookup(os.LookupEnv))
	args, err := exp.ExpandAll([]string{"${MCP_MEDICAL_PATH}"}, nil)

Placeholders reports the names a template references, so callers can
validate templates when they are loaded instead of when they are first
rendered.
*/
package template
