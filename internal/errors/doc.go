/*
Package errors implements the error taxonomy of the order entry upgrade.

Every failure raised by a rule is rooted in one of the registered kinds
declared in this package, so that callers can classify a failure with the
standard errors.Is while the full, human readable cause chain is kept in
the message:

	if errors.Is(err, errors.ErrMappingMissing) {
		// fix the settings file and run again
	}

Use Wrap and Wrapf to add context. Use WithKind when an error coming from
another package (for example a *strconv.NumError) must be both classified
and kept verbatim.
*/
package errors
