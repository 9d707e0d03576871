package domain

import "context"

type studentKey struct{}

// WithStudent attaches the caller's student id; stores use it to reject
// access to attempts owned by someone else.
func WithStudent(ctx context.Context, studentID string) context.Context {
	return context.WithValue(ctx, studentKey{}, studentID)
}

// StudentFrom returns the student id set by WithStudent.
func StudentFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(studentKey{}).(string)
	return id, ok && id != ""
}
