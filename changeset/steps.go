package changeset

import (
	"fmt"
	"regexp"
)

// Step is one stage of a changeset pipeline: a validation that appends
// messages to the error map, or a transformation that rewrites staged
// values. Steps run in declaration order, parent steps before a derived
// type's additions. The pipeline executes at most once per changeset.
type Step func(c *Changeset)

// ValidateLength validates the length of a staged string field. A max of
// zero means no upper bound. Fields with no staged value are skipped; the
// automatic required validation covers absence.
func ValidateLength(field string, min, max int) Step {
	return func(c *Changeset) {
		value, ok := c.Get(field)
		if !ok || value == nil {
			return
		}
		s, ok := value.(string)
		if !ok {
			return
		}
		if len(s) < min {
			c.AddError(field, fmt.Sprintf("must be at least %d characters", min))
		}
		if max > 0 && len(s) > max {
			c.AddError(field, fmt.Sprintf("must be at most %d characters", max))
		}
	}
}

// ValidateFormat validates a staged string field against a pattern.
func ValidateFormat(field string, pattern *regexp.Regexp) Step {
	return func(c *Changeset) {
		value, ok := c.Get(field)
		if !ok || value == nil {
			return
		}
		s, ok := value.(string)
		if !ok {
			return
		}
		if !pattern.MatchString(s) {
			c.AddError(field, fmt.Sprintf("has invalid format (want %s)", pattern))
		}
	}
}

// ValidateInclusion validates that a staged value is one of the permitted
// values.
func ValidateInclusion(field string, permitted ...interface{}) Step {
	return func(c *Changeset) {
		value, ok := c.Get(field)
		if !ok || value == nil {
			return
		}
		for _, p := range permitted {
			if value == p {
				return
			}
		}
		c.AddError(field, "is not a permitted value")
	}
}

// Transform rewrites a staged field value. It runs only when the field has
// a staged value, after any validations declared before it have read the
// original value.
func Transform(field string, fn func(interface{}) interface{}) Step {
	return func(c *Changeset) {
		value, ok := c.Get(field)
		if !ok {
			return
		}
		c.staged[field] = fn(value)
	}
}
