package services

import (
	"context"
	"strings"

	"livepoll/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// bcrypt ignores input past 72 bytes, so longer passwords are rejected.
const maxPasswordBytes = 72

type PollService struct {
	db          *gorm.DB
	tokens      *TokenIssuer
	bcryptCost  int
	newJoinCode func() (string, error)
}

func NewPollService(db *gorm.DB, tokens *TokenIssuer, bcryptCost int) *PollService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &PollService{
		db:          db,
		tokens:      tokens,
		bcryptCost:  bcryptCost,
		newJoinCode: generateJoinCode,
	}
}

type CreatePollRequest struct {
	Title     string                  `json:"title" binding:"required,notblank"`
	Password  string                  `json:"password" binding:"required,notblank,max=72"`
	Questions []CreateQuestionRequest `json:"questions" binding:"required,min=1,dive"`
}

type CreateQuestionRequest struct {
	Text    string                `json:"text" binding:"required,notblank"`
	Options []CreateOptionRequest `json:"options" binding:"required,min=2,dive"`
}

type CreateOptionRequest struct {
	Text      string `json:"text" binding:"required,notblank"`
	IsCorrect bool   `json:"isCorrect"`
}

type CreatePollResponse struct {
	PollID   string `json:"pollId"`
	JoinCode string `json:"joinCode"`
}

type SetActiveQuestionRequest struct {
	QuestionID string `json:"questionId" binding:"required,notblank"`
}

// Credentials carries whatever the caller supplied to prove it created a
// poll: the poll password, a creator token, or both.
type Credentials struct {
	Password string
	Token    string
}

// PollView is a poll as returned to clients. The creator secret hash is
// never serialized.
type PollView struct {
	models.Poll
	IsCreator    bool   `json:"isCreator"`
	CreatorToken string `json:"creatorToken,omitempty"`
}

type TallyRow struct {
	OptionID   string `json:"optionId"`
	OptionText string `json:"optionText"`
	Count      int64  `json:"count" gorm:"column:vote_count"`
}

func validateCreatePoll(req *CreatePollRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return invalid("title is required")
	}
	if strings.TrimSpace(req.Password) == "" {
		return invalid("password is required")
	}
	if len(req.Password) > maxPasswordBytes {
		return invalid("password must be at most %d bytes", maxPasswordBytes)
	}
	if len(req.Questions) == 0 {
		return invalid("at least one question is required")
	}
	for i, q := range req.Questions {
		if strings.TrimSpace(q.Text) == "" {
			return invalid("question %d: text is required", i+1)
		}
		if len(q.Options) < 2 {
			return invalid("question %d: at least two options are required", i+1)
		}
		for j, o := range q.Options {
			if strings.TrimSpace(o.Text) == "" {
				return invalid("question %d, option %d: text is required", i+1, j+1)
			}
		}
	}
	return nil
}

// CreatePoll stores a poll with its questions and options in one
// transaction and returns the new poll's id and join code.
func (s *PollService) CreatePoll(ctx context.Context, req *CreatePollRequest) (*CreatePollResponse, error) {
	if err := validateCreatePoll(req); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash poll password")
	}

	// Start transaction
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, storeError("begin", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	joinCode, err := s.uniqueJoinCode(tx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	poll := models.Poll{
		ID:                uuid.NewString(),
		Title:             strings.TrimSpace(req.Title),
		CreatorSecretHash: string(hash),
		JoinCode:          joinCode,
	}

	if err := tx.Create(&poll).Error; err != nil {
		tx.Rollback()
		return nil, storeError("create poll", err)
	}

	// Create questions and options in submitted order
	for i, qReq := range req.Questions {
		question := models.Question{
			ID:       uuid.NewString(),
			PollID:   poll.ID,
			Text:     strings.TrimSpace(qReq.Text),
			Position: i,
		}

		if err := tx.Create(&question).Error; err != nil {
			tx.Rollback()
			return nil, storeError("create question", err)
		}

		options := make([]models.Option, len(qReq.Options))
		for j, optReq := range qReq.Options {
			options[j] = models.Option{
				ID:         uuid.NewString(),
				QuestionID: question.ID,
				Text:       strings.TrimSpace(optReq.Text),
				IsCorrect:  optReq.IsCorrect,
				Position:   j,
			}
		}

		if err := tx.Create(&options).Error; err != nil {
			tx.Rollback()
			return nil, storeError("create options", err)
		}
	}

	// Commit transaction
	if err := tx.Commit().Error; err != nil {
		return nil, storeError("commit", err)
	}

	log.WithFields(log.Fields{
		"poll_id":   poll.ID,
		"join_code": poll.JoinCode,
		"questions": len(req.Questions),
	}).Info("Poll created")

	return &CreatePollResponse{PollID: poll.ID, JoinCode: poll.JoinCode}, nil
}

func (s *PollService) uniqueJoinCode(tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		code, err := s.newJoinCode()
		if err != nil {
			return "", errors.Wrap(err, "failed to generate join code")
		}

		var count int64
		if err := tx.Model(&models.Poll{}).Where("join_code = ?", code).Count(&count).Error; err != nil {
			return "", storeError("check join code", err)
		}
		if count == 0 {
			return code, nil
		}

		log.WithField("join_code", code).Warn("Join code already taken, generating another")
	}
	return "", errors.Errorf("no free join code after %d attempts", joinCodeAttempts)
}

// GetPollByJoinCode loads a poll with its ordered questions and options.
// The first fetch of a poll without an active question makes its first
// question active.
func (s *PollService) GetPollByJoinCode(ctx context.Context, joinCode, password string) (*PollView, error) {
	code := NormalizeJoinCode(joinCode)
	if code == "" {
		return nil, ErrPollNotFound
	}

	var poll models.Poll
	err := s.db.WithContext(ctx).Where("join_code = ?", code).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position")
		}).
		Preload("Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("position")
		}).
		First(&poll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, storeError("load poll", err)
	}

	if err := s.ensureActiveQuestion(ctx, &poll); err != nil {
		return nil, err
	}

	view := &PollView{
		Poll:      poll,
		IsCreator: checkPassword(poll.CreatorSecretHash, password),
	}

	if view.IsCreator && s.tokens != nil {
		token, err := s.tokens.Issue(poll.ID)
		if err != nil {
			log.WithError(err).WithField("poll_id", poll.ID).Warn("Failed to issue creator token")
		} else {
			view.CreatorToken = token
		}
	}

	return view, nil
}

func (s *PollService) ensureActiveQuestion(ctx context.Context, poll *models.Poll) error {
	if poll.ActiveQuestionID != nil || len(poll.Questions) == 0 {
		return nil
	}

	first := poll.Questions[0].ID
	result := s.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ? AND active_question_id IS NULL", poll.ID).
		Update("active_question_id", first)
	if result.Error != nil {
		return storeError("activate first question", result.Error)
	}

	if result.RowsAffected > 0 {
		poll.ActiveQuestionID = &first
		log.WithFields(log.Fields{"poll_id": poll.ID, "question_id": first}).Info("First question activated")
		return nil
	}

	// Someone else set the active question between our read and update.
	var current models.Poll
	if err := s.db.WithContext(ctx).Select("id", "active_question_id").Where("id = ?", poll.ID).First(&current).Error; err != nil {
		return storeError("reload active question", err)
	}
	poll.ActiveQuestionID = current.ActiveQuestionID
	return nil
}

// SetActiveQuestion switches the poll's active question. The caller must
// hold the poll password or a creator token for the poll.
func (s *PollService) SetActiveQuestion(ctx context.Context, pollID, questionID string, creds Credentials) error {
	if strings.TrimSpace(questionID) == "" {
		return invalid("questionId is required")
	}

	var poll models.Poll
	err := s.db.WithContext(ctx).Select("id", "creator_secret_hash").Where("id = ?", pollID).First(&poll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPollNotFound
	}
	if err != nil {
		return storeError("load poll", err)
	}

	if !s.authorized(&poll, creds) {
		log.WithField("poll_id", pollID).Warn("Rejected active question change with bad credentials")
		return ErrUnauthorized
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Question{}).
		Where("id = ? AND poll_id = ?", questionID, pollID).
		Count(&count).Error; err != nil {
		return storeError("check question", err)
	}
	if count == 0 {
		return ErrQuestionNotFound
	}

	if err := s.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ?", pollID).
		Update("active_question_id", questionID).Error; err != nil {
		return storeError("set active question", err)
	}

	log.WithFields(log.Fields{"poll_id": pollID, "question_id": questionID}).Info("Active question changed")
	return nil
}

func (s *PollService) authorized(poll *models.Poll, creds Credentials) bool {
	if creds.Token != "" && s.tokens != nil && s.tokens.Authorizes(creds.Token, poll.ID) {
		return true
	}
	return checkPassword(poll.CreatorSecretHash, creds.Password)
}

func checkPassword(hash, password string) bool {
	if password == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// RecordResponse appends one vote after checking that the option belongs
// to the question and the question to the poll.
func (s *PollService) RecordResponse(ctx context.Context, pollID, questionID, optionID, participantID string) error {
	if pollID == "" || questionID == "" || optionID == "" {
		return invalid("pollId, questionId and optionId are required")
	}

	var count int64
	err := s.db.WithContext(ctx).Table("options").
		Joins("JOIN questions ON questions.id = options.question_id").
		Where("options.id = ? AND questions.id = ? AND questions.poll_id = ?", optionID, questionID, pollID).
		Count(&count).Error
	if err != nil {
		return storeError("check option", err)
	}
	if count == 0 {
		return invalid("option %s is not part of question %s in this poll", optionID, questionID)
	}

	response := models.Response{
		ID:            uuid.NewString(),
		QuestionID:    questionID,
		OptionID:      optionID,
		ParticipantID: participantID,
	}
	if err := s.db.WithContext(ctx).Create(&response).Error; err != nil {
		return storeError("record response", err)
	}

	return nil
}

// TallyFor counts votes per option of a question. Options nobody voted for
// are included with a count of zero.
func (s *PollService) TallyFor(ctx context.Context, questionID string) ([]TallyRow, error) {
	var rows []TallyRow
	err := s.db.WithContext(ctx).Table("options").
		Select("options.id AS option_id, options.text AS option_text, COUNT(responses.id) AS vote_count").
		Joins("LEFT JOIN responses ON responses.option_id = options.id AND responses.question_id = options.question_id").
		Where("options.question_id = ?", questionID).
		Group("options.id, options.text, options.position").
		Order("options.position").
		Scan(&rows).Error
	if err != nil {
		return nil, storeError("tally", err)
	}
	if rows == nil {
		rows = []TallyRow{}
	}
	return rows, nil
}

// ResolvePoll finds the poll named by an id, a join code, or both. When
// both are given they must refer to the same poll.
func (s *PollService) ResolvePoll(ctx context.Context, pollID, joinCode string) (string, error) {
	code := NormalizeJoinCode(joinCode)
	if pollID == "" && code == "" {
		return "", invalid("pollId or joinCode is required")
	}

	q := s.db.WithContext(ctx).Select("id")
	if pollID != "" {
		q = q.Where("id = ?", pollID)
	}
	if code != "" {
		q = q.Where("join_code = ?", code)
	}

	var poll models.Poll
	err := q.First(&poll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrPollNotFound
	}
	if err != nil {
		return "", storeError("resolve poll", err)
	}
	return poll.ID, nil
}
