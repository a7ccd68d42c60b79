package models

// Resource is a generic API entity (case, suite, run, ...) as decoded from JSON.
type Resource map[string]interface{}
