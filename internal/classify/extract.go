package classify

import (
	"regexp"
	"strings"

	"github.com/user/deskmate/internal/intent"
	"github.com/user/deskmate/internal/timeparse"
)

var (
	reEmail  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	reQuoted = regexp.MustCompile(`"([^"]+)"|“([^”]+)”`)
	reNamed  = regexp.MustCompile(`(?i)\b(?:called|titled|named)\s+(.+)$`)
	reSpaces = regexp.MustCompile(`\s+`)

	reDurationPhrase = regexp.MustCompile(`(?i)\b(?:for\s+)?(?:\d+(?:\.\d+)?|an?|one|two|three|four|half\s+an?)\s*(?:hours?|hrs?|minutes?|mins?)(?:\s+and\s+a\s+half)?\b`)
	reDangling       = regexp.MustCompile(`(?i)(?:[\s,]+(?:with|and|at|on|for|to|from|by|about|of|the|a|an))+[\s,.!?]*$`)
	reLeadingJoiner  = regexp.MustCompile(`(?i)^(?:to|about|that|of|for|on|at|and)\s+`)

	rePolite     = `(?:(?:hey|hi|ok|okay)[,\s]+)?(?:please\s+)?(?:(?:can|could|would|will)\s+you\s+)?(?:please\s+)?`
	reEventLead  = regexp.MustCompile(`(?i)^\s*` + rePolite + `(?:schedule|book|set\s+up|create|add|put|plan|arrange|organi[sz]e)\s+(?:me\s+)?(?:an?\s+|the\s+|my\s+)?(?:new\s+)?`)
	reCalendar   = regexp.MustCompile(`(?i)\b(?:to|on|in|into)\s+(?:my|the)\s+calendar\b`)
	reEventWord  = regexp.MustCompile(`(?i)^(?:an?\s+)?(?:new\s+)?(?:calendar\s+)?(?:event|entry|appointment)$`)
	reNotify     = regexp.MustCompile(`(?i)\b(?:and\s+(?:email|notify|invite|let\s+\w+\s+know|send\s+(?:an?\s+|the\s+)?(?:invite|invitation|reminder|email|mail))|send\s+(?:an?\s+|the\s+)?(?:invite|invitation|meeting\s+reminder)|email\s+(?:the\s+)?(?:attendees?|invitees?|participants?|them|him|her))\b`)
	reNotifyTail = regexp.MustCompile(`(?i)\s+and\s+(?:email|notify|invite|send|let|tell)\b.*$`)

	reSubjectQuoted = regexp.MustCompile(`(?i)\bsubject(?:\s+line)?(?:\s+is|:)?\s*"([^"]+)"`)
	reSubject       = regexp.MustCompile(`(?i)\bsubject(?:\s+line)?(?:\s+is|:)\s*([^,.;"]+?)(?:\s+(?:saying|and\s+say|that\s+says|with\s+body)\b|[,.;]|$)`)
	reBody          = regexp.MustCompile(`(?i)\b(?:saying|that\s+says|to\s+say|telling\s+(?:him|her|them)|with\s+(?:the\s+)?(?:message|body|text)|message:|body:)\s*[:,]?\s*(.+)$`)
	reAbout         = regexp.MustCompile(`(?i)\babout\s+(.+)$`)

	reImageOf    = regexp.MustCompile(`(?i)\b(?:image|picture|photo|drawing|illustration|painting|sketch|render)\s+(?:of|showing|depicting|with)\s+(.+)$`)
	reImageLead  = regexp.MustCompile(`(?i)^\s*` + rePolite + `(?:generate|create|make|draw|paint|render|sketch|design)\s+(?:me\s+)?(?:an?\s+)?(?:image|picture|photo|drawing|illustration|painting)?\s*(?:of\s+)?`)
	reStyleIn    = regexp.MustCompile(`(?i)\bin\s+(?:an?\s+|the\s+)?([a-z0-9\- ]+?)\s+style\b`)
	reStyleKnown = regexp.MustCompile(`(?i)\b(watercolou?r|oil\s+painting|pixel\s+art|anime|cartoon|photorealistic|realistic|3d\s+render|line\s+art|minimalist|cyberpunk|impressionist|comic)\b`)
	reEditLead   = regexp.MustCompile(`(?i)^\s*` + rePolite + `(?:edit|modify|change|alter|adjust|retouch|update)\s+(?:the\s+|this\s+|my\s+|that\s+|it\s+)?(?:last\s+)?(?:image|picture|photo|pic)?\s*(?:to|so\s+that|so|and|by)?\s*`)

	reReminder = regexp.MustCompile(`(?i)\b(?:remind\s+me|reminder|don't\s+let\s+me\s+forget|remember|ping\s+me|nudge\s+me)\s+(?:to|about|that|of|for)\s+(.+)$`)

	reAnswerLead = regexp.MustCompile(`(?i)^\s*(?:it'?s\s+called|call\s+it|the\s+(?:title|name|subject)\s+is|title:|subject:|it\s+should\s+say|just\s+say|say|tell\s+(?:him|her|them)|it'?s|it\s+is|remind\s+me\s+to|to)\s+`)
)

var stopTitles = map[string]bool{
	"it": true, "this": true, "that": true, "them": true, "one": true,
	"something": true, "me": true, "meeting with": true,
}

// removePhrases deletes each phrase, matched case-insensitively, from text.
func removePhrases(text string, phrases ...string) string {
	for _, p := range phrases {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)(?:\b(?:at|on|by|from)\s+)?\b` + regexp.QuoteMeta(p) + `\b`)
		if err != nil {
			continue
		}
		text = re.ReplaceAllString(text, " ")
	}
	return collapse(text)
}

func collapse(s string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

func trimFree(s string) string {
	s = collapse(s)
	for {
		next := collapse(reDangling.ReplaceAllString(s, ""))
		next = strings.Trim(next, " ,.;:!?\"“”")
		if next == s {
			return s
		}
		s = next
	}
}

func firstQuoted(text string) string {
	m := reQuoted.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

func emails(text string) []string {
	found := reEmail.FindAllString(text, -1)
	seen := make(map[string]bool, len(found))
	var out []string
	for _, e := range found {
		e = strings.TrimRight(strings.ToLower(e), ".")
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// when extracts the first date/time expression and the phrases it used.
func when(text string, in Input) (intent.Value, []string) {
	m, ok := timeparse.Extract(text, in.Now, in.loc())
	if !ok {
		return intent.Value{}, nil
	}
	return intent.DateTime(m.Time), m.Phrases
}

func duration(text string) intent.Value {
	d, ok := timeparse.ParseDuration(text)
	if !ok {
		return intent.Value{}
	}
	return intent.Duration(d)
}

// stripTyped removes emails, date/time phrases and duration phrases so
// that what remains is free text.
func stripTyped(text string, phrases []string) string {
	s := reEmail.ReplaceAllString(text, " ")
	s = removePhrases(s, phrases...)
	s = reDurationPhrase.ReplaceAllString(s, " ")
	return collapse(s)
}

func eventTitle(text string, phrases []string) string {
	if q := firstQuoted(text); q != "" {
		return collapse(q)
	}
	if m := reNamed.FindStringSubmatch(text); m != nil {
		if t := cleanTitle(m[1], phrases); t != "" {
			return t
		}
	}
	s := reNotifyTail.ReplaceAllString(text, "")
	s = reEventLead.ReplaceAllString(s, "")
	s = reCalendar.ReplaceAllString(s, " ")
	return cleanTitle(s, phrases)
}

func cleanTitle(s string, phrases []string) string {
	s = trimFree(stripTyped(s, phrases))
	s = reLeadingJoiner.ReplaceAllString(s, "")
	s = trimFree(s)
	if s == "" || stopTitles[strings.ToLower(s)] || reEventWord.MatchString(s) {
		return ""
	}
	return s
}

func extractEvent(text string, in Input) intent.Intent {
	out := intent.New(intent.CreateEvent)
	start, phrases := when(text, in)
	out.Set(intent.SlotStart, start)
	out.Set(intent.SlotDuration, duration(text))
	if addrs := emails(text); len(addrs) > 0 {
		out.Set(intent.SlotAttendee, intent.Emails(addrs...))
	}
	out.Set(intent.SlotTitle, intent.String(eventTitle(text, phrases)))
	out.Notify = reNotify.MatchString(text)
	return out
}

func extractListEvents(text string, in Input) intent.Intent {
	out := intent.New(intent.ListEvents)
	date, _ := when(text, in)
	out.Set(intent.SlotDate, date)
	return out
}

func extractEmail(kind intent.Kind, text string) intent.Intent {
	out := intent.New(kind)
	if addrs := emails(text); len(addrs) > 0 {
		out.Set(intent.SlotTo, intent.Emails(addrs...))
	}

	subject := ""
	if m := reSubjectQuoted.FindStringSubmatch(text); m != nil {
		subject = m[1]
	} else if m := reSubject.FindStringSubmatch(text); m != nil {
		subject = m[1]
	}
	out.Set(intent.SlotSubject, intent.String(collapse(subject)))

	body := ""
	if m := reBody.FindStringSubmatch(text); m != nil {
		body = m[1]
	} else if q := firstQuoted(text); q != "" && q != subject {
		body = q
	} else if m := reAbout.FindStringSubmatch(text); m != nil {
		body = m[1]
	}
	out.Set(intent.SlotBody, intent.String(strings.Trim(collapse(body), "\"“” ")))
	return out
}

func extractInbox(text string) intent.Intent {
	out := intent.New(intent.ReadInbox)
	norm := timeparse.Normalize(text)
	var filter []string
	if strings.Contains(norm, "unread") || strings.Contains(norm, "new email") || strings.Contains(norm, "new mail") {
		filter = append(filter, "unread")
	}
	if strings.Contains(norm, "today") {
		filter = append(filter, "today")
	}
	if i := strings.Index(norm, "from "); i >= 0 {
		if addrs := emails(norm[i:]); len(addrs) > 0 {
			filter = append(filter, "from:"+addrs[0])
		}
	}
	out.Set(intent.SlotFilter, intent.String(strings.Join(filter, " ")))
	return out
}

func extractGenerate(text string) intent.Intent {
	out := intent.New(intent.GenerateImage)
	prompt := ""
	if m := reImageOf.FindStringSubmatch(text); m != nil {
		prompt = m[1]
	} else {
		prompt = reImageLead.ReplaceAllString(text, "")
	}
	prompt = strings.Trim(collapse(prompt), " .!?")
	if !stopTitles[strings.ToLower(prompt)] {
		out.Set(intent.SlotPrompt, intent.String(prompt))
	}

	if m := reStyleIn.FindStringSubmatch(text); m != nil {
		out.Set(intent.SlotStyle, intent.String(collapse(m[1])))
	} else if m := reStyleKnown.FindStringSubmatch(text); m != nil {
		out.Set(intent.SlotStyle, intent.String(strings.ToLower(collapse(m[1]))))
	}
	return out
}

func imageRef(in Input) intent.Value {
	if in.Attachment != "" {
		return intent.Image(in.Attachment)
	}
	return intent.Image(in.LastImage)
}

func extractEdit(text string, in Input) intent.Intent {
	out := intent.New(intent.EditImage)
	out.Set(intent.SlotImage, imageRef(in))
	instruction := strings.Trim(collapse(reEditLead.ReplaceAllString(text, "")), " .!?")
	if !stopTitles[strings.ToLower(instruction)] {
		out.Set(intent.SlotInstruction, intent.String(instruction))
	}
	return out
}

func extractReminder(text string, in Input) intent.Intent {
	out := intent.New(intent.Reminder)
	at, phrases := when(text, in)
	out.Set(intent.SlotAt, at)

	s := removePhrases(text, phrases...)
	if m := reReminder.FindStringSubmatch(s); m != nil {
		out.Set(intent.SlotText, intent.String(trimFree(m[1])))
	}
	return out
}

// extract pulls every slot the kind declares out of one utterance.
func extract(kind intent.Kind, text string, in Input) intent.Intent {
	switch kind {
	case intent.CreateEvent:
		return extractEvent(text, in)
	case intent.ListEvents:
		return extractListEvents(text, in)
	case intent.SendEmail, intent.DraftEmail:
		return extractEmail(kind, text)
	case intent.ReadInbox:
		return extractInbox(text)
	case intent.GenerateImage:
		return extractGenerate(text)
	case intent.EditImage:
		return extractEdit(text, in)
	case intent.Reminder:
		return extractReminder(text, in)
	default:
		return intent.New(intent.None)
	}
}

// answer reads text as the reply to a question about slot of a pending
// operation of kind. Free-text slots take the whole reply; typed slots
// that can be recognized unambiguously are picked up too, so "lunch at
// noon" answers both title and start.
func answer(kind intent.Kind, slot intent.SlotName, text string, in Input) intent.Intent {
	out := intent.New(kind)

	var phrases []string
	switch kind {
	case intent.CreateEvent:
		var start intent.Value
		start, phrases = when(text, in)
		out.Set(intent.SlotStart, start)
		out.Set(intent.SlotDuration, duration(text))
		if addrs := emails(text); len(addrs) > 0 {
			out.Set(intent.SlotAttendee, intent.Emails(addrs...))
		}
		if reNotify.MatchString(text) {
			out.Notify = true
		}
	case intent.Reminder:
		var at intent.Value
		at, phrases = when(text, in)
		out.Set(intent.SlotAt, at)
	case intent.ListEvents:
		var date intent.Value
		date, phrases = when(text, in)
		out.Set(intent.SlotDate, date)
	case intent.SendEmail, intent.DraftEmail:
		if addrs := emails(text); len(addrs) > 0 {
			out.Set(intent.SlotTo, intent.Emails(addrs...))
		}
	case intent.EditImage:
		if in.Attachment != "" {
			out.Set(intent.SlotImage, intent.Image(in.Attachment))
		}
	}

	switch intent.SlotTypes[slot] {
	case intent.TypeString:
		free := text
		if slot == intent.SlotTitle || slot == intent.SlotText {
			free = stripTyped(text, phrases)
		}
		free = reAnswerLead.ReplaceAllString(free, "")
		if slot == intent.SlotTitle {
			out.Set(slot, intent.String(cleanTitle(free, nil)))
		} else {
			free = strings.Trim(collapse(free), "\"“” ")
			if slot == intent.SlotText {
				free = trimFree(free)
			}
			if !stopTitles[strings.ToLower(free)] {
				out.Set(slot, intent.String(free))
			}
		}
	case intent.TypeDuration:
		out.Set(slot, duration(text))
	case intent.TypeEmail:
		if addrs := emails(text); len(addrs) > 0 {
			out.Set(slot, intent.Emails(addrs...))
		}
	case intent.TypeDateTime:
		v, _ := when(text, in)
		out.Set(slot, v)
	case intent.TypeImage:
		if in.Attachment != "" {
			out.Set(slot, intent.Image(in.Attachment))
		}
	}
	return out
}
