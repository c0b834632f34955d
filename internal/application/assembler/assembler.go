package assembler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/doeshing/hostq/internal/application/recipes"
	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

// fallbackText is used when a tier hands over blank text.
const fallbackText = "I could not produce an answer for this question."

// TrustRecorder applies outcome events.
type TrustRecorder interface {
	Record(event domain.OutcomeEvent) (domain.TrustDelta, bool)
}

// RecipeLearner admits new recipes.
type RecipeLearner interface {
	Insert(recipe domain.Recipe, now time.Time) (domain.Recipe, bool)
}

// Assembler is the only producer of domain.Answer.
type Assembler struct {
	Trust     TrustRecorder
	Recipes   RecipeLearner
	History   ports.HistoryRepository
	Telemetry ports.TelemetrySink
	Logger    ports.Logger
	Now       func() time.Time
	NewID     func() string
}

// Input carries one resolution and its context into Finalize.
type Input struct {
	Question   domain.Question
	Resolution domain.Resolution
	Elapsed    time.Duration
	Config     domain.Config
	Trace      *domain.Trace
}

func (a *Assembler) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

func (a *Assembler) newID() string {
	if a.NewID == nil {
		return uuid.NewString()
	}
	return a.NewID()
}

// Finalize normalizes the resolution, applies ledger and learning side effects
// and returns the answer. It never fails; side-effect errors are logged.
func (a *Assembler) Finalize(in Input) domain.Answer {
	res := in.Resolution
	reliability := domain.ClampReliability(res.Reliability)
	if res.Refused && reliability > domain.RefusalCeiling {
		reliability = domain.RefusalCeiling
	}
	origin := res.Origin
	if origin == "" {
		origin = domain.OriginDegraded
	}

	answer := domain.Answer{
		QuestionID:  in.Question.ID,
		Text:        domain.NonEmpty(res.Text, fallbackText),
		Reliability: reliability,
		Label:       domain.LabelFor(reliability),
		Origin:      origin,
		Intent:      in.Question.Intent,
		Elapsed:     in.Elapsed,
		Degradation: string(res.Degradation),
		Trace:       in.Trace,
	}

	if a.Trust != nil {
		for _, event := range res.Events {
			if delta, ok := a.Trust.Record(event); ok {
				answer.TrustDeltas = append(answer.TrustDeltas, delta)
			}
		}
	}

	a.learn(in, answer)
	a.record(in, answer)
	a.emit(in, answer)
	return answer
}

// learn is the sole admission path for recipes: compute-origin answers that
// are neither refusals nor degraded and clear the learning floor.
func (a *Assembler) learn(in Input, answer domain.Answer) {
	if a.Recipes == nil || in.Config.Recipes.Disabled {
		return
	}
	res := in.Resolution
	if answer.Origin != domain.OriginCompute || res.Refused || res.Degradation != "" {
		return
	}
	floor := in.Config.Recipes.GetMinReliability()
	if floor < domain.MinRecipeReliability {
		floor = domain.MinRecipeReliability
	}
	if answer.Reliability < floor {
		return
	}
	now := a.now()
	recipe, err := recipes.Learn(a.newID(), in.Question, answer.Text, answer.Reliability, res.Evidence, res.ProbeRefs, now)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Debug("recipe not learned", map[string]interface{}{
				"intent": string(in.Question.Intent),
				"error":  err.Error(),
			})
		}
		return
	}
	evicted, hasEvicted := a.Recipes.Insert(recipe, now)
	if a.Logger == nil {
		return
	}
	fields := map[string]interface{}{
		"recipe": recipe.ID,
		"intent": string(recipe.Intent),
	}
	if hasEvicted {
		fields["evicted"] = evicted.ID
	}
	a.Logger.Debug("recipe learned", fields)
}

func (a *Assembler) record(in Input, answer domain.Answer) {
	if a.History == nil || !in.Config.History.Enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), domain.HistoryWriteTimeout)
	defer cancel()
	err := a.History.SaveAnswer(ctx, domain.AnswerRecord{
		QuestionID:  answer.QuestionID,
		AskedAt:     in.Question.ReceivedAt,
		Question:    in.Question.Text,
		Intent:      answer.Intent,
		Origin:      answer.Origin,
		Label:       answer.Label,
		Reliability: answer.Reliability,
		Elapsed:     answer.Elapsed,
		Text:        answer.Text,
	})
	if err != nil && a.Logger != nil {
		a.Logger.Warn("history write failed", map[string]interface{}{
			"question": answer.QuestionID,
			"error":    err.Error(),
		})
	}
}

func (a *Assembler) emit(in Input, answer domain.Answer) {
	if a.Telemetry == nil {
		return
	}
	a.Telemetry.Emit(domain.TelemetryEvent{
		QuestionID:  answer.QuestionID,
		Intent:      answer.Intent,
		Mode:        in.Question.Mode,
		Origin:      answer.Origin,
		Label:       answer.Label,
		Reliability: answer.Reliability,
		Elapsed:     answer.Elapsed,
		Iterations:  in.Resolution.Iterations,
		Degradation: in.Resolution.Degradation,
		At:          a.now(),
		Trace:       in.Trace,
	})
}
