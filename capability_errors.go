package ocirun

import "github.com/pkg/errors"

// wrapCapabilityError attaches a stack trace to an unknown-capability
// rejection, the one class of error worth a captured trace at the point
// of detection: silent permission drift from a typo'd capability name.
func wrapCapabilityError(name string) error {
	base := errors.Errorf("unknown capability %q", name)
	wrapped := errors.Wrap(base, "capability validation failed")
	return &Error{Kind: KindValidation, Field: "capabilities", Message: wrapped.Error(), Cause: wrapped}
}
