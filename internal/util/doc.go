// # Fail-closed evaluation
//
// Every admission stage is wrapped with FailClosed so that an error or
// panic from a collaborator can only ever produce the stage's deny value:
//
//	admin, err := util.FailClosed(false, func() (bool, error) {
//	    return lookup(ctx)
//	})
//
// # HTTP Utilities
//
// Response writer wrapper for status code capture:
//
//	w := util.NewStatusCapturingResponseWriter(responseWriter)
//	handler.ServeHTTP(w, r)
//	statusCode := w.StatusCode
package util
