/*
Package dsl builds flow definitions in Go instead of editor JSON.

It is useful for flows generated at runtime, for tests, and for catching typos in node
ids at compile time of the surrounding program rather than at activation.

Example usage:

	b := dsl.New("acme", "welcome")

	b.Add("ask").
		Question("What is your name?", "name", 2, domain.UnitHours).
		On(domain.HandleSuccess, "greet").
		On(domain.HandleTimeout, "end")

	b.Add("greet").
		Message("Nice to meet you, {{name}}!").
		Go("end")

	b.Add("end").Terminal()

	flow, err := b.Build()
	// ... register flow with memory.NewLoader(flow)
*/
package dsl
