package flow

// Options configures runtime-wide execution behavior.
//
// The zero value is usable: retries default to DefaultRetryPolicy,
// classification to Classify, and metrics to disabled.
type Options struct {
	// Retry is the default retry policy for steps that do not carry
	// their own. The zero value is replaced by DefaultRetryPolicy().
	Retry RetryPolicy

	// Classifier maps executor errors to an ErrorClass. Nil defaults
	// to Classify. Replace it to encode backend-specific knowledge,
	// e.g. a cloud SDK's error taxonomy.
	Classifier func(error) ErrorClass

	// Metrics receives execution metrics. Nil disables metrics.
	Metrics *Metrics
}

// withDefaults fills unset options.
func (o Options) withDefaults() Options {
	if o.Retry == (RetryPolicy{}) {
		o.Retry = DefaultRetryPolicy()
	}
	if o.Classifier == nil {
		o.Classifier = Classify
	}
	return o
}
