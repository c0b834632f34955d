package domain

import "time"

// AnswerRecord is one row of the local answer history.
type AnswerRecord struct {
	QuestionID  string        `json:"question_id"`
	AskedAt     time.Time     `json:"asked_at"`
	Question    string        `json:"question"`
	Intent      Intent        `json:"intent"`
	Origin      Origin        `json:"origin"`
	Label       Label         `json:"label"`
	Reliability float64       `json:"reliability"`
	Elapsed     time.Duration `json:"elapsed"`
	Text        string        `json:"text"`
}
