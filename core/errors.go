package core

import "errors"

// Engine error taxonomy. Retryable classes are retried locally with bounded
// backoff; configuration mismatches surface immediately; model-output errors
// degrade per-item rather than aborting the whole operation.
var (
	// ErrMalformedTranscript: segments out of order or with non-positive spans.
	ErrMalformedTranscript = errors.New("malformed transcript")

	// ErrEmbeddingUnavailable: transient embedding service failure, retryable.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrStoreWrite: transient store write failure, retryable with backoff,
	// fatal once the retry budget is exhausted.
	ErrStoreWrite = errors.New("store write failed")

	// ErrRetrievalConfig: fatal configuration mismatch, e.g. the query
	// embedding dimension differs from the index dimension.
	ErrRetrievalConfig = errors.New("retrieval configuration mismatch")

	// ErrGenerationTimeout: generation exceeded its deadline. Tokens already
	// streamed stay delivered; the stream terminates with an error event.
	ErrGenerationTimeout = errors.New("generation timed out")

	// ErrGenerationService: the generation model call failed. Not retried
	// mid-stream to avoid duplicate partial answers.
	ErrGenerationService = errors.New("generation service error")

	// ErrMalformedQuestion: model returned an unusable question; the slot is
	// retried and eventually dropped, the batch continues.
	ErrMalformedQuestion = errors.New("malformed question output")

	// ErrValidationScoring: grading one answer failed; surfaced per-question.
	ErrValidationScoring = errors.New("validation scoring failed")

	// ErrNotFound: the requested entity does not exist.
	ErrNotFound = errors.New("not found")
)

// Retryable reports whether err belongs to a transiently retryable class.
func Retryable(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) || errors.Is(err, ErrStoreWrite)
}
