// Package pipeline drives the bounded-concurrency fetch-and-persist run.
//
// Every work item of a plan moves through
//
//	Pending -> Admitted -> Fetching -> {Persisted | Dropped} -> Released
//
// The dispatch loop pulls items lazily and acquires an admission token before
// starting each unit of work, so at most Concurrency fetches (and goroutines)
// are alive at once. The token is released in a defer on every exit path.
//
// Example usage:
//
//	fetcher, _ := client.New(client.DefaultConfig())
//	out, _ := sink.NewFileSink("output.txt", sink.DefaultDelimiter)
//	orch, _ := pipeline.New(fetcher, out, pipeline.DefaultConfig())
//	report, err := orch.Run(ctx, plan)
//	fmt.Println(report) // "2950 of 2970 persisted"
//
// The orchestrator:
//   - Validates the plan before any request is made
//   - Caps in-flight fetches with an admission.Limiter
//   - Drops items whose fetch fails, without affecting other items
//   - Treats the first sink failure as fatal and returns the partial report
//   - Closes the sink once, after every unit of work has finished
package pipeline
