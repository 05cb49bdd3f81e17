package models

import "time"

// Update is a partial-field write. Nil fields are left untouched.
// AppendHistory entries are appended after the existing history.
type Update struct {
	Status        *TaskStatus    `json:"status,omitempty"`
	Priority      *Priority      `json:"priority,omitempty"`
	Assignee      *string        `json:"assignee,omitempty"`
	DueDate       *time.Time     `json:"due_date,omitempty"`
	ClearDueDate  bool           `json:"clear_due_date,omitempty"`
	Outcome       *string        `json:"outcome,omitempty"`
	Notes         *string        `json:"notes,omitempty"`
	AppendHistory []HistoryEntry `json:"append_history,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u Update) Empty() bool {
	return u.Status == nil && u.Priority == nil && u.Assignee == nil &&
		u.DueDate == nil && !u.ClearDueDate && u.Outcome == nil &&
		u.Notes == nil && len(u.AppendHistory) == 0
}

// ApplyToRecord returns r with u applied. UpdatedAt is set to now.
func (u Update) ApplyToRecord(r Record, now time.Time) Record {
	if u.Status != nil {
		r.Status = string(*u.Status)
	}
	if u.Priority != nil {
		r.Priority = string(*u.Priority)
	}
	if u.Assignee != nil {
		r.Assignee = *u.Assignee
	}
	if u.ClearDueDate {
		r.DueDate = nil
	}
	if u.DueDate != nil {
		d := *u.DueDate
		r.DueDate = &d
	}
	if u.Outcome != nil {
		r.Outcome = *u.Outcome
	}
	if u.Notes != nil {
		r.Notes = *u.Notes
	}
	if len(u.AppendHistory) > 0 {
		h := make([]HistoryEntry, 0, len(r.History)+len(u.AppendHistory))
		h = append(h, r.History...)
		r.History = append(h, u.AppendHistory...)
	}
	r.UpdatedAt = now
	return r
}

// ApplyToTask returns a copy of t with u applied, for optimistic cache patches.
func (u Update) ApplyToTask(t Task, now time.Time) Task {
	t = t.Clone()
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.Assignee != nil {
		t.AssignedTo = *u.Assignee
	}
	if u.ClearDueDate {
		t.DueDate = nil
	}
	if u.DueDate != nil {
		d := *u.DueDate
		t.DueDate = &d
	}
	if u.Outcome != nil {
		t.Outcome = *u.Outcome
	}
	if u.Notes != nil {
		t.Notes = *u.Notes
	}
	t.History = append(t.History, u.AppendHistory...)
	t.UpdatedAt = now
	return t
}

// TaskFromRecord maps a store record to a Task, normalizing unknown enums.
func TaskFromRecord(r Record) Task {
	status := TaskStatus(r.Status)
	if !status.Valid() {
		status = TaskStatusPending
	}
	priority := Priority(r.Priority)
	if !priority.Valid() {
		priority = PriorityMedium
	}
	t := Task{
		ID:                r.ID,
		ContactName:       r.ContactName,
		Phone:             r.Phone,
		Notes:             r.Notes,
		Outcome:           r.Outcome,
		Status:            status,
		Priority:          priority,
		AssignedTo:        r.Assignee,
		VerificationState: VerificationNone,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.DueDate != nil {
		d := *r.DueDate
		t.DueDate = &d
	}
	if len(r.History) > 0 {
		t.History = make([]HistoryEntry, len(r.History))
		copy(t.History, r.History)
	}
	return t
}

// StatusPtr, PriorityPtr and StringPtr build Update fields inline.
func StatusPtr(s TaskStatus) *TaskStatus { return &s }

func PriorityPtr(p Priority) *Priority { return &p }

func StringPtr(s string) *string { return &s }

func TimePtr(t time.Time) *time.Time { return &t }
