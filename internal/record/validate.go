package record

import (
	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/diasync/diasync/internal/fault"
)

// EventSchemaJSON and ObjectSchemaJSON are the embedded wire schemas.
// init copies them into _meta/ so non-Go readers can validate shards.
var (
	//go:embed schemas/event.json
	EventSchemaJSON string

	//go:embed schemas/object.json
	ObjectSchemaJSON string
)

var (
	eventSchema  = jsonschema.MustCompileString("diasync/event.json", EventSchemaJSON)
	objectSchema = jsonschema.MustCompileString("diasync/object.json", ObjectSchemaJSON)
)

// ValidateEventFields checks a decoded event line against the wire schema.
// Unknown and missing required fields are validation errors.
func ValidateEventFields(fields map[string]any) error {
	if err := eventSchema.Validate(fields); err != nil {
		return fault.Validationf("record.event", "event schema: %v", err)
	}
	return nil
}

// ValidateObjectFields checks a decoded object line against the wire schema.
func ValidateObjectFields(fields map[string]any) error {
	if err := objectSchema.Validate(fields); err != nil {
		return fault.Validationf("record.object", "object schema: %v", err)
	}
	return nil
}

// CheckEvent re-validates and hash-verifies a decoded event line.
// Schema violations are validation errors; a hash mismatch is an
// integrity error, surfaced and never repaired.
func CheckEvent(fields map[string]any) error {
	if err := ValidateEventFields(fields); err != nil {
		return err
	}
	ok, err := VerifyLine(fields)
	if err != nil {
		return fault.Validationf("record.event", "verify: %v", err)
	}
	if !ok {
		id, _ := fields["event_id"].(string)
		return fault.Integrityf("record.event", id, "stored hash does not match recomputed hash")
	}
	return nil
}

// CheckObject re-validates and hash-verifies a decoded object line.
func CheckObject(fields map[string]any) error {
	if err := ValidateObjectFields(fields); err != nil {
		return err
	}
	ok, err := VerifyLine(fields)
	if err != nil {
		return fault.Validationf("record.object", "verify: %v", err)
	}
	if !ok {
		id, _ := fields["object_id"].(string)
		return fault.Integrityf("record.object", id, "stored hash does not match recomputed hash")
	}
	return nil
}
