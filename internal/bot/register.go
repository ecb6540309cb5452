package bot

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/mayahealth/maya-bot/internal/store"
	"github.com/mayahealth/maya-bot/internal/telegram"
)

// Registration is a short linear question flow. Answers accumulate in a
// per-user flowState until the last step commits the patient record.
const (
	stepAge = iota
	stepGender
	stepAllergies
	stepMedicalHistory
	stepDone
)

type flowState struct {
	step    int
	patient store.Patient
}

// flowRegistry tracks in-progress registration flows by user.
type flowRegistry struct {
	mu    sync.Mutex
	flows map[int64]*flowState
}

func newFlowRegistry() *flowRegistry {
	return &flowRegistry{flows: make(map[int64]*flowState)}
}

func (r *flowRegistry) start(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[userID] = &flowState{step: stepAge}
}

func (r *flowRegistry) active(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.flows[userID]
	return ok
}

func (r *flowRegistry) get(userID int64) (*flowState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.flows[userID]
	return st, ok
}

// abort drops an in-progress flow, reporting whether one existed.
func (r *flowRegistry) abort(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.flows[userID]
	delete(r.flows, userID)
	return ok
}

func (b *Bot) registerHandler(ctx context.Context, msg *telegram.Message) error {
	userID := msg.From.ID
	if err := b.store.Touch(userID); err != nil {
		return err
	}
	if _, registered, err := b.store.PatientInfo(userID); err != nil {
		return err
	} else if registered {
		b.replyHTML(ctx, msg.Chat.ID, 0, textAlreadyRegistered)
		return nil
	}
	b.flows.start(userID)
	b.replyHTML(ctx, msg.Chat.ID, 0, textAskAge)
	return nil
}

// handleFlowAnswer consumes one free-text message as the answer to the
// current registration question.
func (b *Bot) handleFlowAnswer(ctx context.Context, msg *telegram.Message) {
	userID := msg.From.ID
	st, ok := b.flows.get(userID)
	if !ok {
		return
	}
	answer := strings.TrimSpace(msg.Text)

	switch st.step {
	case stepAge:
		age, err := strconv.Atoi(answer)
		if err != nil || age < 1 || age > 120 {
			b.replyHTML(ctx, msg.Chat.ID, 0, textBadAge)
			return
		}
		st.patient.Age = age
		st.step = stepGender
		b.replyHTML(ctx, msg.Chat.ID, 0, textAskGender)
	case stepGender:
		st.patient.Gender = answer
		st.step = stepAllergies
		b.replyHTML(ctx, msg.Chat.ID, 0, textAskAllergies)
	case stepAllergies:
		st.patient.Allergies = answer
		st.step = stepMedicalHistory
		b.replyHTML(ctx, msg.Chat.ID, 0, textAskMedicalHistory)
	case stepMedicalHistory:
		st.patient.MedicalHistory = answer
		st.step = stepDone
		if err := b.store.SetPatient(userID, st.patient); err != nil {
			b.flows.abort(userID)
			b.reportFailure(ctx, msg, err)
			return
		}
		b.flows.abort(userID)
		b.replyHTML(ctx, msg.Chat.ID, 0, textRegisterDone)
	}
}
