package payout

// Snapshots are the before/after images stored on audit entries. Money is
// kept as exact decimal strings; times as epoch millis.

func sessionSnapshot(s Session) map[string]any {
	return map[string]any{
		"mentorId":    string(s.MentorID),
		"mentorEmail": s.MentorEmail,
		"sessionType": string(s.Type),
		"date":        s.Date.UnixMilli(),
		"duration":    s.DurationMinutes,
		"ratePerHour": s.RatePerHour.String(),
		"notes":       s.Notes,
		"status":      string(s.Status),
		"isAttended":  s.Attended,
		"isPaid":      s.IsPaid(),
	}
}

func payoutSnapshot(p Payout) map[string]any {
	return map[string]any{
		"sessionId":   string(p.SessionID),
		"mentorId":    string(p.MentorID),
		"mentorEmail": p.MentorEmail,
		"sessionType": string(p.SessionType),
		"grossAmount": p.GrossAmount.String(),
		"gst":         p.GST.String(),
		"taxes":       p.Taxes.String(),
		"platformFee": p.PlatformFee.String(),
		"netAmount":   p.NetAmount.String(),
		"status":      string(p.Status),
		"createdAt":   p.CreatedAt.UnixMilli(),
	}
}
