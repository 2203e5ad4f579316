package domain

// OutcomeStatus classifies the result of a collaborator call.
type OutcomeStatus int

const (
	// OutcomeSuccess means the collaborator answered.
	OutcomeSuccess OutcomeStatus = iota
	// OutcomeFallback means the call failed and the documented fallback was applied.
	OutcomeFallback
	// OutcomeFatal means the call failed and no fallback exists.
	OutcomeFatal
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSuccess:
		return "success"
	case OutcomeFallback:
		return "fallback"
	default:
		return "fatal"
	}
}

// Outcome carries a collaborator result together with how it was obtained.
// Err is set for both fallback and fatal outcomes.
type Outcome[T any] struct {
	Value  T
	Status OutcomeStatus
	Err    error
}

// Success wraps a successful value.
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v, Status: OutcomeSuccess}
}

// Fallback wraps the fallback value applied after err.
func Fallback[T any](v T, err error) Outcome[T] {
	return Outcome[T]{Value: v, Status: OutcomeFallback, Err: err}
}

// Fatal wraps an unrecoverable failure.
func Fatal[T any](err error) Outcome[T] {
	return Outcome[T]{Status: OutcomeFatal, Err: err}
}

// Usable reports whether Value can be used.
func (o Outcome[T]) Usable() bool {
	return o.Status != OutcomeFatal
}

// Stage names a search pipeline stage that can fall back.
type Stage string

const (
	StageRewrite   Stage = "rewrite"
	StageEmbedding Stage = "embedding"
	StageVector    Stage = "vector"
	StageKeyword   Stage = "keyword"
	StageRerank    Stage = "rerank"
)
