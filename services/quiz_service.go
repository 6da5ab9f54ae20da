package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tae5567/trivparty-server/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QuizService handles quiz CRUD. Question generation from a source URL
// happens upstream; this service persists and validates the result.
type QuizService struct {
	db *gorm.DB
}

func NewQuizService(db *gorm.DB) *QuizService {
	return &QuizService{db: db}
}

type CreateQuizRequest struct {
	Title     string                  `json:"title" binding:"required"`
	SourceURL string                  `json:"source_url"`
	Questions []CreateQuestionRequest `json:"questions" binding:"required,min=1"`
}

type CreateQuestionRequest struct {
	Text          string   `json:"text" binding:"required"`
	Options       []string `json:"options" binding:"required"`
	CorrectAnswer string   `json:"correct_answer" binding:"required"`
	Explanation   string   `json:"explanation"`
	QuestionOrder int      `json:"question_order" binding:"required,min=1"`
}

// validateQuestion enforces the question invariants before anything is
// persisted: exactly 4 unique non-empty options, the correct answer among
// them.
func validateQuestion(req *CreateQuestionRequest) error {
	if len(req.Options) != 4 {
		return errors.New("each question must have exactly 4 options")
	}

	seen := make(map[string]bool, 4)
	for _, option := range req.Options {
		if option == "" {
			return errors.New("options must be non-empty")
		}
		if seen[option] {
			return errors.New("options must be unique")
		}
		seen[option] = true
	}

	if !seen[req.CorrectAnswer] {
		return errors.New("correct answer must be one of the options")
	}
	return nil
}

func (s *QuizService) CreateQuiz(ctx context.Context, userID string, req *CreateQuizRequest) (*models.Quiz, error) {
	orders := make(map[int]bool, len(req.Questions))
	for i := range req.Questions {
		if err := validateQuestion(&req.Questions[i]); err != nil {
			return nil, err
		}
		if orders[req.Questions[i].QuestionOrder] {
			return nil, errors.New("question order must be unique within the quiz")
		}
		orders[req.Questions[i].QuestionOrder] = true
	}

	quiz := models.Quiz{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     req.Title,
		SourceURL: req.SourceURL,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&quiz).Error; err != nil {
			return err
		}

		for _, qReq := range req.Questions {
			question := models.Question{
				ID:            uuid.NewString(),
				QuizID:        quiz.ID,
				Text:          qReq.Text,
				OptionA:       qReq.Options[0],
				OptionB:       qReq.Options[1],
				OptionC:       qReq.Options[2],
				OptionD:       qReq.Options[3],
				CorrectAnswer: qReq.CorrectAnswer,
				Explanation:   qReq.Explanation,
				QuestionOrder: qReq.QuestionOrder,
			}
			if err := tx.Create(&question).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create quiz: %w", err)
	}

	return s.GetQuizByID(ctx, quiz.ID, userID)
}

func (s *QuizService) GetQuizByID(ctx context.Context, quizID, userID string) (*models.Quiz, error) {
	var quiz models.Quiz
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", quizID, userID).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("questions.question_order")
		}).
		First(&quiz).Error
	if err != nil {
		return nil, err
	}
	return &quiz, nil
}

func (s *QuizService) GetUserQuizzes(ctx context.Context, userID string) ([]models.Quiz, error) {
	var quizzes []models.Quiz
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("questions.question_order")
		}).
		Order("created_at DESC").
		Find(&quizzes).Error
	return quizzes, err
}

func (s *QuizService) DeleteQuiz(ctx context.Context, quizID, userID string) error {
	if _, err := s.GetQuizByID(ctx, quizID, userID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(&models.Quiz{}, "id = ?", quizID).Error
}
