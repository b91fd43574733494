package notify

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"agendapro/agenda-api/internal/domain"
	"agendapro/agenda-api/internal/pending"
)

const (
	acceptLabel = "Aceptar"
	rejectLabel = "Rechazar"
)

// MessageBuilder renders pending records into channel-agnostic messages.
type MessageBuilder struct {
	baseURL   string
	tutorName string
}

func NewMessageBuilder(baseURL, tutorName string) MessageBuilder {
	if tutorName == "" {
		tutorName = "Agenda Pro"
	}
	return MessageBuilder{baseURL: strings.TrimSuffix(baseURL, "/"), tutorName: tutorName}
}

// ConfirmationURL is the deep link that opens the plan review modal.
func (b MessageBuilder) ConfirmationURL(pendingID string) string {
	q := url.Values{}
	q.Set("pending", pendingID)
	return b.baseURL + "/?" + q.Encode()
}

// SignatureURL is the deep link that opens the class signature modal.
func (b MessageBuilder) SignatureURL(pendingID, planID string, ordinal int) string {
	// keep the documented parameter order, url.Values would sort it
	return fmt.Sprintf("%s/?signature=%s&plan=%s&class=%d",
		b.baseURL, url.QueryEscape(pendingID), url.QueryEscape(planID), ordinal)
}

func (b MessageBuilder) PlanApproval(rec pending.Record[domain.PlanDraft]) Message {
	d := rec.Payload
	link := b.ConfirmationURL(rec.ID)
	planLabel := domain.PlanLabel(d.PlanType)
	schedule := d.ScheduleLabel()

	body := fmt.Sprintf("%s · %s · %s", d.StudentName, planLabel, schedule)
	md := fmt.Sprintf(
		"Hola %s,\n\n%s propone un plan para **%s**:\n\n- %s\n- %s\n\n[Revisar y confirmar](%s)\n",
		d.GuardianName, b.tutorName, d.StudentName, planLabel, schedule, link)

	return Message{
		Kind:        domain.KindPlanApproval,
		PendingID:   rec.ID,
		Title:       "Confirma el plan de " + d.StudentName,
		Body:        body,
		Markdown:    md,
		URL:         link,
		AcceptLabel: acceptLabel,
		RejectLabel: rejectLabel,
		Template:    TemplatePlanApproval,
		Variables: map[string]string{
			"guardianName":    d.GuardianName,
			"studentName":     d.StudentName,
			"tutorName":       b.tutorName,
			"planLabel":       planLabel,
			"scheduleLabel":   schedule,
			"confirmationUrl": link,
		},
	}
}

func (b MessageBuilder) ClassSignature(rec pending.Record[domain.SignatureRequest], plan *domain.Plan) Message {
	req := rec.Payload
	link := b.SignatureURL(rec.ID, req.PlanID, req.ClassOrdinal)
	classLabel := fmt.Sprintf("clase %d de %d (%s)", req.ClassOrdinal, plan.PlanType, plan.ScheduleLabel())

	md := fmt.Sprintf(
		"Hola %s,\n\n%s registró la **%s** de %s.\n\n[Firmar asistencia](%s)\n",
		plan.GuardianName, b.tutorName, classLabel, plan.StudentName, link)

	return Message{
		Kind:         domain.KindClassSignature,
		PendingID:    rec.ID,
		PlanID:       req.PlanID,
		ClassOrdinal: req.ClassOrdinal,
		Title:        "Firma la clase " + strconv.Itoa(req.ClassOrdinal) + " de " + plan.StudentName,
		Body:         fmt.Sprintf("%s · %s", plan.StudentName, classLabel),
		Markdown:     md,
		URL:          link,
		AcceptLabel:  "Firmar",
		RejectLabel:  rejectLabel,
		Template:     TemplateClassSignature,
		Variables: map[string]string{
			"guardianName": plan.GuardianName,
			"studentName":  plan.StudentName,
			"tutorName":    b.tutorName,
			"classLabel":   classLabel,
			"signatureUrl": link,
		},
	}
}
