package remote

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/crewsync/crewsync/internal/model"
)

// Wire column names. These are the backend's spelling; nothing outside
// this package may mention them.
const (
	ColID           = "id"
	ColCompanyID    = "company_id"
	ColDescription  = "description"
	ColStatus       = "status"
	ColTaskType     = "task_type"
	ColFrequency    = "recurrence_frequency"
	ColNextNotify   = "next_recurrence_notification_at"
	ColCreatedAt    = "created_at"
	ColUpdatedAt    = "updated_at"
	ColDeadline     = "deadline"
	ColCompletedAt  = "completed_at"
	ColProofURL     = "proof_image_url"
	ColProofTime    = "proof_timestamp"
	ColRequirePhoto = "require_photo"
	ColAssignedTo   = "assigned_to"
	ColAssignedBy   = "assigned_by"
	ColParentTask   = "parent_task_id"
	ColRemarks      = "remarks"

	ColName       = "name"
	ColEmail      = "email"
	ColMobile     = "mobile"
	ColRole       = "role"
	ColPoints     = "points"
	ColAuthUserID = "auth_user_id"
	ColManagerID  = "manager_id"
	ColManagerIDs = "manager_ids"
)

// wireRemark is the shape of one element of the remarks JSON column.
type wireRemark struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	EmployeeID   string    `json:"employee_id"`
	EmployeeName string    `json:"employee_name"`
	Remark       string    `json:"remark"`
	Timestamp    time.Time `json:"timestamp"`
}

// EncodeTask converts a task to its wire row. Every encodable field is
// present in the result; the fallback layer strips columns the backend
// turns out not to have.
func EncodeTask(t model.Task) (*Row, error) {
	remarks := make([]wireRemark, len(t.Remarks))
	for i, r := range t.Remarks {
		remarks[i] = wireRemark{
			ID:           r.ID,
			TaskID:       r.TaskID,
			EmployeeID:   r.EmployeeID,
			EmployeeName: r.EmployeeName,
			Remark:       r.Remark,
			Timestamp:    r.Timestamp,
		}
	}
	remarksJSON, err := json.Marshal(remarks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode remarks: %w", err)
	}

	row := &Row{}
	row.Set(ColID, t.ID)
	row.Set(ColCompanyID, t.CompanyID)
	row.Set(ColDescription, t.Description)
	row.Set(ColStatus, string(t.Status))
	row.Set(ColTaskType, string(t.Type))
	row.Set(ColFrequency, nullString(string(t.Frequency)))
	row.Set(ColNextNotify, encodeTimePtr(t.NextRecurrenceAt))
	row.Set(ColCreatedAt, encodeTime(t.CreatedAt))
	row.Set(ColUpdatedAt, encodeTimeOrNull(t.UpdatedAt))
	row.Set(ColDeadline, encodeTimePtr(t.Deadline))
	row.Set(ColCompletedAt, encodeTimePtr(t.CompletedAt))
	if t.Proof != nil {
		row.Set(ColProofURL, t.Proof.ImageURL)
		row.Set(ColProofTime, encodeTime(t.Proof.Timestamp))
	} else {
		row.Set(ColProofURL, nil)
		row.Set(ColProofTime, nil)
	}
	row.Set(ColRequirePhoto, encodeBool(t.RequirePhoto))
	row.Set(ColAssignedTo, t.AssignedTo)
	row.Set(ColAssignedBy, t.AssignedBy)
	row.Set(ColParentTask, nullString(t.ParentTaskID))
	row.Set(ColRemarks, string(remarksJSON))
	return row, nil
}

// DecodeTask builds a task from whatever columns a row actually has.
// Missing columns yield zero values, so reads keep working against a
// backend that predates newer fields.
func DecodeTask(cols []string, vals []any) (model.Task, error) {
	var t model.Task
	var proofURL string
	var proofAt *time.Time

	for i, c := range cols {
		if i >= len(vals) {
			break
		}
		v := vals[i]
		switch c {
		case ColID:
			t.ID = asString(v)
		case ColCompanyID:
			t.CompanyID = asString(v)
		case ColDescription:
			t.Description = asString(v)
		case ColStatus:
			t.Status = model.Status(asString(v))
		case ColTaskType:
			t.Type = model.TaskType(asString(v))
		case ColFrequency:
			t.Frequency = model.Frequency(asString(v))
		case ColNextNotify:
			t.NextRecurrenceAt = asTimePtr(v)
		case ColCreatedAt:
			if at, ok := asTime(v); ok {
				t.CreatedAt = at
			}
		case ColUpdatedAt:
			if at, ok := asTime(v); ok {
				t.UpdatedAt = at
			}
		case ColDeadline:
			t.Deadline = asTimePtr(v)
		case ColCompletedAt:
			t.CompletedAt = asTimePtr(v)
		case ColProofURL:
			proofURL = asString(v)
		case ColProofTime:
			proofAt = asTimePtr(v)
		case ColRequirePhoto:
			t.RequirePhoto = asBool(v)
		case ColAssignedTo:
			t.AssignedTo = asString(v)
		case ColAssignedBy:
			t.AssignedBy = asString(v)
		case ColParentTask:
			t.ParentTaskID = asString(v)
		case ColRemarks:
			raw := asString(v)
			if raw == "" || raw == "null" {
				break
			}
			var remarks []wireRemark
			if err := json.Unmarshal([]byte(raw), &remarks); err != nil {
				return model.Task{}, fmt.Errorf("failed to decode remarks for task %s: %w", t.ID, err)
			}
			t.Remarks = make([]model.Remark, len(remarks))
			for j, r := range remarks {
				t.Remarks[j] = model.Remark{
					ID:           r.ID,
					TaskID:       r.TaskID,
					EmployeeID:   r.EmployeeID,
					EmployeeName: r.EmployeeName,
					Remark:       r.Remark,
					Timestamp:    r.Timestamp,
				}
			}
		}
	}

	if proofURL != "" {
		p := &model.Proof{ImageURL: proofURL}
		if proofAt != nil {
			p.Timestamp = *proofAt
		}
		t.Proof = p
	}

	// The remark list is timestamp-ordered everywhere in this client, but
	// a backend row's JSON makes no such promise.
	model.SortRemarks(t.Remarks)
	return t, nil
}

// EncodeEmployee converts an employee to its wire row. Staff-manager
// links ride along as the manager_ids JSON column so link edges and the
// employee row travel in one write.
func EncodeEmployee(e model.Employee) (*Row, error) {
	idsJSON, err := json.Marshal(e.ManagerIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manager ids: %w", err)
	}

	row := &Row{}
	row.Set(ColID, e.ID)
	row.Set(ColCompanyID, e.CompanyID)
	row.Set(ColName, e.Name)
	row.Set(ColEmail, e.Email)
	row.Set(ColMobile, e.Mobile)
	row.Set(ColRole, string(e.Role))
	row.Set(ColPoints, int64(e.Points))
	row.Set(ColAuthUserID, nullString(e.AuthUserID))
	row.Set(ColManagerID, nullString(e.ManagerID))
	row.Set(ColManagerIDs, string(idsJSON))
	return row, nil
}

// DecodeEmployee builds an employee from whatever columns a row has.
func DecodeEmployee(cols []string, vals []any) (model.Employee, error) {
	var e model.Employee
	for i, c := range cols {
		if i >= len(vals) {
			break
		}
		v := vals[i]
		switch c {
		case ColID:
			e.ID = asString(v)
		case ColCompanyID:
			e.CompanyID = asString(v)
		case ColName:
			e.Name = asString(v)
		case ColEmail:
			e.Email = asString(v)
		case ColMobile:
			e.Mobile = asString(v)
		case ColRole:
			e.Role = model.Role(asString(v))
		case ColPoints:
			e.Points = int(asInt(v))
		case ColAuthUserID:
			e.AuthUserID = asString(v)
		case ColManagerID:
			e.ManagerID = asString(v)
		case ColManagerIDs:
			raw := asString(v)
			if raw == "" || raw == "null" {
				break
			}
			if err := json.Unmarshal([]byte(raw), &e.ManagerIDs); err != nil {
				return model.Employee{}, fmt.Errorf("failed to decode manager ids for employee %s: %w", e.ID, err)
			}
		}
	}
	return e, nil
}

// Timestamps travel as RFC3339 text with fractional seconds kept; the
// activity ordering upstream needs millisecond resolution.

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encodeTimeOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return encodeTime(t)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func encodeBool(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Driver value conversions. database/sql hands back whatever the driver
// chose (string, []byte, int64, float64, bool, time.Time, nil), so every
// decode goes through these.

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case nil:
		return 0
	case int64:
		return n
	case float64:
		return int64(n)
	case []byte:
		i, _ := strconv.ParseInt(string(n), 10, 64)
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	case bool:
		if n {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	default:
		return asInt(v) != 0
	}
}

func asTime(v any) (time.Time, bool) {
	switch at := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return at, true
	default:
		s := asString(v)
		if s == "" {
			return time.Time{}, false
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
}

func asTimePtr(v any) *time.Time {
	t, ok := asTime(v)
	if !ok {
		return nil
	}
	return &t
}
