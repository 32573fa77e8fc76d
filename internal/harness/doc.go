// Package harness runs scripted adapter scenarios.
//
// A scenario is a YAML file naming CUE models, a driver, and a sequence of
// adapter operations with expectations:
//
//	name: users_lifecycle
//	models: [../models/users.cue]
//	driver: memory
//	steps:
//	  - op: create
//	    collection: users
//	    values: {name: alice}
//	  - op: lock
//	    collection: users
//	    criteria: {where: {name: alice}}
//	    as: t
//	  - op: update
//	    collection: users
//	    criteria: {where: {name: alice}}
//	    values: {name: bob}
//	    token: t
//	  - op: unlock
//	    token: t
//	  - op: find
//	    collection: users
//	    criteria: 1
//	    expect:
//	      count: 1
//	      records: [{name: bob}]
//	assertions:
//	  - type: final_state
//	    collection: users
//	    count: 1
//	  - type: trace_count
//	    op: create
//	    count: 1
//
// A step without an expect block must succeed. expect.error names an
// error kind (see ErrorKind) or "any".
//
// Runs are deterministic: tokens are numbered, the logical clock starts at
// zero and the wall clock is frozen at Epoch, so a run's trace can be
// compared with a golden file (see RunWithGolden).
package harness
