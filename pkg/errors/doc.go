// Package errors provides structured error types for better observability
// and programmatic error handling across the boot pipeline.
//
// Codes follow the failure taxonomy of a boot event: probe and fetch
// failures are recoverable inside the resolver, module failures are isolated
// by the pipeline, and resolution exhaustion, ordering cycles and cache
// corruption abort the current boot event.
//
// Example usage:
//
//	err := errors.WrapWithContext(
//	    errors.ErrCodeFetchFailure,
//	    "failed to fetch metadata",
//	    ctx.Err(),
//	    map[string]any{
//	        "datasource": "openstack",
//	        "attempts":   4,
//	    },
//	)
//
//	if errors.IsCode(err, errors.ErrCodeFetchFailure) {
//	    // try next candidate
//	}
package errors
