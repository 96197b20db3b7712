package scoring

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	onnxruntime "github.com/yalue/onnxruntime_go"

	"marketpulse/internal/domain/sentiment"
	"marketpulse/pkg/errors"
)

// Input width of the bag-of-words model and its class order
const (
	onnxVocabSize = 512
	onnxClasses   = 3 // negative, neutral, positive
)

// ONNXScorer runs a three-class sentiment classifier exported to ONNX.
// Input "input" is a [1, 512] float32 hashed bag-of-words vector; output
// "probabilities" is [1, 3] in negative, neutral, positive order.
// Score is P(positive) - P(negative) and confidence the top class probability.
type ONNXScorer struct {
	mu      sync.Mutex
	session *onnxruntime.DynamicAdvancedSession
}

var _ Scorer = (*ONNXScorer)(nil)

var initOnce sync.Once
var initErr error

// NewONNXScorer loads the model at modelPath
func NewONNXScorer(modelPath string) (*ONNXScorer, error) {
	initOnce.Do(func() {
		initErr = onnxruntime.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, errors.Wrap(initErr, "failed to initialize ONNX runtime")
	}

	options, err := onnxruntime.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	defer options.Destroy()

	session, err := onnxruntime.NewDynamicAdvancedSession(modelPath,
		[]string{"input"}, []string{"probabilities"}, options)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load ONNX model")
	}

	return &ONNXScorer{session: session}, nil
}

func (s *ONNXScorer) Score(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return Result{}, errors.Wrap(errors.ErrUnavailable, "onnx session closed")
	}

	features, tokens := Vectorize(text, onnxVocabSize)

	input, err := onnxruntime.NewTensor(onnxruntime.NewShape(1, onnxVocabSize), features)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to create input tensor")
	}
	defer input.Destroy()

	probs := make([]float32, onnxClasses)
	output, err := onnxruntime.NewTensor(onnxruntime.NewShape(1, onnxClasses), probs)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to create output tensor")
	}
	defer output.Destroy()

	if err := s.session.Run([]onnxruntime.Value{input}, []onnxruntime.Value{output}); err != nil {
		return Result{}, errors.Wrap(err, "inference failed")
	}

	out := output.GetData()
	neg, neu, pos := float64(out[0]), float64(out[1]), float64(out[2])

	confidence := neg
	if neu > confidence {
		confidence = neu
	}
	if pos > confidence {
		confidence = pos
	}

	return Result{
		Score:      clamp(pos-neg, -1, 1),
		Confidence: clamp(confidence, 0, 1),
		Model:      sentiment.ModelONNX,
		Tokens:     map[string][]string{"tokens": tokens},
	}, nil
}

// Close releases the ONNX session
func (s *ONNXScorer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		_ = s.session.Destroy()
		s.session = nil
	}
}

// Vectorize lower-cases and tokenizes text, then hashes every token into a
// size-wide count vector. It returns the vector and the tokens seen.
func Vectorize(text string, size int) ([]float32, []string) {
	vec := make([]float32, size)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(size)]++
	}
	if tokens == nil {
		tokens = []string{}
	}
	return vec, tokens
}
