package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

const schemaSource = `
#Duration: =~"^[0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h)([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))*$" | "0" | 0
#Minutes:  number & >=0
#Level:    "initial" | "progressing" | "worrying" | "critical"

#Stage: {
	level:  #Level
	after?: #Duration
}

#Disease: {
	id:              string & !=""
	self_healing?:   bool
	infected_after?: #Duration
	stages: [...#Stage]
}

#Treatment: {
	id:       string & !=""
	type:     "timed" | "sequence"
	disease?: string
	settings?: {...}
	parts?: [...#Treatment]

	if type == "timed" {
		settings: {
			appliance:  string & !=""
			body_part?: string
			level:      #Level
			interval:   #Duration | (#Minutes & >0)
			doses:      int & >0
			tolerance?: #Duration | #Minutes
			...
		}
	}
}

#Config: {
	cycle?: #Duration
	start?: _
	logging?: {
		level?:  string
		format?: "json" | "text"
		loki?: {
			enabled?: bool
			url?:     string
			labels?: {[string]: string}
		}
	}
	telemetry?: {
		enabled?:  bool
		provider?: string
	}
	snapshots?: {
		dir?: string
	}
	diseases?: [...#Disease]
	treatments?: [...#Treatment]
}
`

// Validate checks a YAML configuration document against the schema.
func Validate(name string, raw []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("regimen.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	file, err := cueyaml.Extract(name, raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	data := ctx.BuildFile(file)
	if err := data.Err(); err != nil {
		return fmt.Errorf("build %s: %w", name, err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate %s: %s", name, cueerrors.Details(err, nil))
	}
	return nil
}
