package classify

import (
	"context"
	"regexp"

	"github.com/user/deskmate/internal/intent"
	"github.com/user/deskmate/internal/timeparse"
)

// commandThreshold is the score at which an utterance counts as an
// explicit command. Below it, an utterance made while a question is
// pending is read as the answer.
const commandThreshold = 4

// attachmentBonus is added to edit_image when the turn carries an image.
const attachmentBonus = 3

type cue struct {
	re     *regexp.Regexp
	weight int
	// needsImage cues only count when the session has an image to work on.
	needsImage bool
}

func c(pattern string, weight int) cue {
	return cue{re: regexp.MustCompile(`\b(?:` + pattern + `)\b`), weight: weight}
}

func ci(pattern string, weight int) cue {
	cu := c(pattern, weight)
	cu.needsImage = true
	return cu
}

var cues = map[intent.Kind][]cue{
	intent.CreateEvent: {
		c(`schedule`, 3),
		c(`book`, 2),
		c(`set up`, 2),
		c(`(?:create|add) (?:an? |new )?(?:event|meeting|appointment)`, 4),
		c(`to my calendar`, 3),
		c(`new event`, 3),
		c(`meeting`, 1),
		c(`appointment`, 1),
		c(`call with`, 1),
	},
	intent.ListEvents: {
		c(`what(?:'s| is) on my (?:calendar|schedule)`, 5),
		c(`what do i have`, 4),
		c(`list (?:my )?(?:events|meetings|appointments)`, 4),
		c(`show (?:me )?my (?:calendar|events|meetings|schedule|agenda)`, 4),
		c(`am i (?:free|busy)`, 3),
		c(`agenda`, 3),
		c(`any (?:events|meetings|appointments)`, 3),
		c(`upcoming`, 2),
		c(`my schedule`, 2),
		c(`on my calendar`, 2),
		c(`events|meetings|appointments`, 1),
	},
	intent.SendEmail: {
		c(`send (?:an? )?(?:email|e-mail|mail|message)`, 4),
		c(`email|e-mail`, 2),
		c(`reply to|write to`, 2),
		c(`mail`, 1),
		c(`send`, 1),
	},
	intent.DraftEmail: {
		c(`draft`, 4),
		c(`write (?:an? |the )?(?:email|e-mail|mail|reply)`, 4),
		c(`compose`, 3),
		c(`prepare (?:an? )?(?:email|reply)`, 3),
		c(`don't send`, 2),
	},
	intent.ReadInbox: {
		c(`(?:check|read) (?:my )?(?:email|emails|e-mails|mail|messages|inbox)`, 5),
		c(`inbox`, 4),
		c(`unread`, 3),
		c(`(?:any )?new (?:emails|mail|messages)`, 3),
		c(`my emails`, 2),
		c(`emails`, 1),
	},
	intent.GenerateImage: {
		c(`(?:generate|create|make|draw|paint|render|design) (?:me )?(?:an? )?(?:image|picture|photo|drawing|illustration|painting|logo)`, 5),
		c(`(?:image|picture|photo|drawing|illustration|painting) of`, 3),
		c(`draw`, 3),
		c(`paint`, 2),
		c(`illustration`, 2),
	},
	intent.EditImage: {
		c(`edit`, 4),
		c(`(?:change|alter|adjust|retouch|modify) (?:the |this |my |that )?(?:image|picture|photo|pic)`, 5),
		c(`modify`, 3),
		c(`(?:remove|erase|replace) the background`, 3),
		ci(`make it|turn it|add|remove|change|instead`, 2),
	},
	intent.Reminder: {
		c(`remind me`, 5),
		c(`reminder`, 4),
		c(`don't let me forget`, 4),
		c(`ping me|nudge me`, 3),
		c(`remember to`, 2),
	},
}

// Rules is the deterministic keyword classifier. Every kind has weighted
// cue phrases; the highest total wins and a tie at the top is ambiguous.
type Rules struct{}

func NewRules() *Rules { return &Rules{} }

type scored struct {
	kind  intent.Kind
	score int
}

// rank returns kinds in descending score order, ties broken by the stable
// order of intent.Kinds, and the sum of all scores.
func rank(text string, in Input) ([]scored, int) {
	norm := timeparse.Normalize(text)
	out := make([]scored, 0, len(intent.Kinds))
	total := 0
	for _, kind := range intent.Kinds {
		s := 0
		for _, cu := range cues[kind] {
			if cu.needsImage && !in.hasImage() {
				continue
			}
			if cu.re.MatchString(norm) {
				s += cu.weight
			}
		}
		if kind == intent.EditImage && in.Attachment != "" {
			s += attachmentBonus
		}
		out = append(out, scored{kind: kind, score: s})
		total += s
	}
	// insertion sort keeps equal scores in intent.Kinds order
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].score > out[j-1].score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, total
}

func (r *Rules) Classify(_ context.Context, in Input) (Result, error) {
	ranked, total := rank(in.Text, in)
	top, second := ranked[0], ranked[1]
	explicit := top.score >= commandThreshold && top.score > second.score

	if in.Pending != nil {
		pk := in.Pending.Intent.Kind
		switch {
		case explicit && top.kind == pk:
			return Result{Intent: extract(pk, in.Text, in), Confidence: confidence(top.score, total)}, nil
		case !explicit || top.kind == pk:
			return Result{Intent: answer(pk, in.Pending.Slot, in.Text, in), Confidence: 1}, nil
		}
		return Result{
			Intent:      extract(top.kind, in.Text, in),
			TopicChange: true,
			Confidence:  confidence(top.score, total),
		}, nil
	}

	if top.score == 0 {
		return Result{Intent: intent.New(intent.None)}, nil
	}
	if top.score == second.score {
		return Result{Intent: intent.New(intent.None), Ambiguous: true, Confidence: confidence(top.score, total)}, nil
	}
	return Result{Intent: extract(top.kind, in.Text, in), Confidence: confidence(top.score, total)}, nil
}

func confidence(score, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(score) / float64(total)
}
