package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SignatureState tracks the guardian's confirmation for a single class.
type SignatureState string

const (
	SignatureNone     SignatureState = "none"
	SignaturePending  SignatureState = "pending"
	SignatureSigned   SignatureState = "signed"
	SignatureRejected SignatureState = "rejected"
)

// MaxPlanType caps the number of classes a single plan may hold.
const MaxPlanType = 60

var startTimePattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// weekdayTokens maps accepted spellings to the canonical token.
var weekdayTokens = map[string]string{
	"lunes":     "lunes",
	"martes":    "martes",
	"miércoles": "miércoles",
	"miercoles": "miércoles",
	"jueves":    "jueves",
	"viernes":   "viernes",
	"sábado":    "sábado",
	"sabado":    "sábado",
	"domingo":   "domingo",
}

// ClassSession is one class of a plan. Ordinals start at 1.
type ClassSession struct {
	Ordinal            int            `bson:"ordinal" json:"ordinal"`
	Completed          bool           `bson:"completed" json:"completed"`
	SignatureState     SignatureState `bson:"signatureState" json:"signatureState"`
	SignaturePendingID string         `bson:"signaturePendingId,omitempty" json:"signaturePendingId,omitempty"`
	RetryCount         int            `bson:"retryCount" json:"retryCount"`
}

// PlanDraft holds everything needed to create a Plan once the guardian approves it.
type PlanDraft struct {
	StudentName   string         `bson:"studentName" json:"studentName"`
	Age           int            `bson:"age" json:"age"`
	GuardianName  string         `bson:"guardianName" json:"guardianName"`
	GuardianPhone string         `bson:"guardianPhone" json:"guardianPhone"`
	PlanType      int            `bson:"planType" json:"planType"`
	Weekdays      []string       `bson:"weekdays" json:"weekdays"`
	StartTime     string         `bson:"startTime" json:"startTime"`
	Classes       []ClassSession `bson:"classes" json:"classes"`
}

// Plan is a confirmed tutoring package.
type Plan struct {
	ID            string         `bson:"_id" json:"id"`
	StudentName   string         `bson:"studentName" json:"studentName"`
	Age           int            `bson:"age" json:"age"`
	GuardianName  string         `bson:"guardianName" json:"guardianName"`
	GuardianPhone string         `bson:"guardianPhone" json:"guardianPhone"`
	PhoneDigits   string         `bson:"phoneDigits" json:"-"`
	PlanType      int            `bson:"planType" json:"planType"`
	Weekdays      []string       `bson:"weekdays" json:"weekdays"`
	StartTime     string         `bson:"startTime" json:"startTime"`
	Classes       []ClassSession `bson:"classes" json:"classes"`
	CreatedAt     time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time      `bson:"updatedAt" json:"updatedAt"`
}

// NewPlanFromDraft materializes an approved draft. The ID is assigned by the store.
func NewPlanFromDraft(d PlanDraft) *Plan {
	return &Plan{
		StudentName:   d.StudentName,
		Age:           d.Age,
		GuardianName:  d.GuardianName,
		GuardianPhone: d.GuardianPhone,
		PhoneDigits:   DigitsOnly(d.GuardianPhone),
		PlanType:      d.PlanType,
		Weekdays:      append([]string(nil), d.Weekdays...),
		StartTime:     d.StartTime,
		Classes:       NormalizeClasses(d.Classes, d.PlanType),
	}
}

// NormalizeClasses returns exactly size sessions with ordinals 1..size.
// Entries from raw are kept in order; missing ones are generated unsigned.
func NormalizeClasses(raw []ClassSession, size int) []ClassSession {
	if size < 0 {
		size = 0
	}
	out := make([]ClassSession, size)
	for i := 0; i < size; i++ {
		cs := ClassSession{SignatureState: SignatureNone}
		if i < len(raw) {
			cs = raw[i]
		}
		cs.Ordinal = i + 1
		if cs.SignatureState == "" {
			cs.SignatureState = SignatureNone
		}
		if cs.RetryCount < 0 {
			cs.RetryCount = 0
		}
		out[i] = cs
	}
	return out
}

// FreshClasses resets every session to completed=false, signatureState=none.
func FreshClasses(size int) []ClassSession {
	return NormalizeClasses(nil, size)
}

// Class returns a pointer to the session with the given ordinal.
func (p *Plan) Class(ordinal int) (*ClassSession, bool) {
	if ordinal < 1 || ordinal > len(p.Classes) {
		return nil, false
	}
	return &p.Classes[ordinal-1], true
}

// ScheduleLabel renders the weekdays and start time, e.g. "lunes y miércoles · 15:00".
func (p PlanDraft) ScheduleLabel() string {
	return scheduleLabel(p.Weekdays, p.StartTime)
}

func (p *Plan) ScheduleLabel() string {
	return scheduleLabel(p.Weekdays, p.StartTime)
}

func scheduleLabel(days []string, start string) string {
	var joined string
	switch len(days) {
	case 0:
		joined = "sin días"
	case 1:
		joined = days[0]
	default:
		joined = strings.Join(days[:len(days)-1], ", ") + " y " + days[len(days)-1]
	}
	return fmt.Sprintf("%s · %s", joined, start)
}

// PlanLabel is the short human form of the plan size.
func PlanLabel(planType int) string {
	if planType == 1 {
		return "1 clase"
	}
	return fmt.Sprintf("%d clases", planType)
}

// Validate checks the draft and canonicalizes weekday spellings in place.
func (d *PlanDraft) Validate() error {
	var fields []FieldError
	d.StudentName = strings.TrimSpace(d.StudentName)
	d.GuardianName = strings.TrimSpace(d.GuardianName)
	if d.StudentName == "" {
		fields = append(fields, FieldError{Field: "studentName", Error: "is required"})
	}
	if d.GuardianName == "" {
		fields = append(fields, FieldError{Field: "guardianName", Error: "is required"})
	}
	if d.Age <= 0 {
		fields = append(fields, FieldError{Field: "age", Error: "must be a positive number"})
	}
	if n := len(DigitsOnly(d.GuardianPhone)); n < MinPhoneDigits || n > MaxPhoneDigits {
		fields = append(fields, FieldError{Field: "guardianPhone", Error: "must have between 10 and 15 digits"})
	}
	if d.PlanType < 1 || d.PlanType > MaxPlanType {
		fields = append(fields, FieldError{Field: "planType", Error: fmt.Sprintf("must be between 1 and %d", MaxPlanType)})
	}
	if len(d.Weekdays) == 0 {
		fields = append(fields, FieldError{Field: "weekdays", Error: "must not be empty"})
	}
	seen := make(map[string]bool, len(d.Weekdays))
	canonical := make([]string, 0, len(d.Weekdays))
	for _, day := range d.Weekdays {
		token, ok := CanonicalWeekday(day)
		if !ok {
			fields = append(fields, FieldError{Field: "weekdays", Error: fmt.Sprintf("unknown weekday %q", day)})
			continue
		}
		if !seen[token] {
			seen[token] = true
			canonical = append(canonical, token)
		}
	}
	d.Weekdays = canonical
	if !startTimePattern.MatchString(d.StartTime) {
		fields = append(fields, FieldError{Field: "startTime", Error: "must use HH:MM"})
	}
	if d.Classes != nil && len(d.Classes) == 0 {
		fields = append(fields, FieldError{Field: "classes", Error: "must not be empty when provided"})
	}
	if len(fields) > 0 {
		return &ValidationError{Message: "invalid plan", Fields: fields}
	}
	return nil
}

// CanonicalWeekday lowercases and maps unaccented spellings to the canonical token.
func CanonicalWeekday(s string) (string, bool) {
	token, ok := weekdayTokens[strings.ToLower(strings.TrimSpace(s))]
	return token, ok
}

// ValidStartTime reports whether s is a 24h HH:MM time.
func ValidStartTime(s string) bool {
	return startTimePattern.MatchString(s)
}
