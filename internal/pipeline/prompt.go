package pipeline

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"stylizer/internal/domain"
)

// presetStyles maps preset ids to the style description sent to the
// provider. The user-visible label is derived from the id.
var presetStyles = map[string]string{
	"warrior":      "an epic fantasy warrior portrait, dramatic rim lighting, intricate armor",
	"royal":        "a regal renaissance oil painting portrait, ornate clothing, palace backdrop",
	"cyberpunk":    "a neon-lit cyberpunk portrait, holographic accents, rain-slicked city night",
	"astronaut":    "a cinematic astronaut portrait, reflective visor raised, deep space behind",
	"noir":         "a moody black-and-white film noir portrait, hard shadows, cigarette smoke haze",
	"watercolor":   "a soft watercolor illustration portrait, loose brush strokes, paper texture",
	"anime":        "a detailed anime style portrait, expressive eyes, clean line art",
	"greek-statue": "a classical marble sculpture portrait, museum lighting, chiselled detail",
}

var titler = cases.Title(language.English)

// PresetLabel renders the user-facing name of a preset id.
func PresetLabel(id string) string {
	return titler.String(strings.ReplaceAll(id, "-", " "))
}

// KnownPreset reports whether the preset id is registered.
func KnownPreset(id string) bool {
	_, ok := presetStyles[id]
	return ok
}

// BuildPrompt derives the final instruction text sent to the provider from
// the job's mode and style parameters. Length limits are enforced at
// intake, not here.
func BuildPrompt(job *domain.Job) string {
	var b strings.Builder
	b.WriteString("Transform the supplied reference photos of this person into ")

	switch job.Mode {
	case domain.ModePreset:
		style, ok := presetStyles[job.Prompt]
		if !ok {
			style = job.Prompt
		}
		fmt.Fprintf(&b, "%s (style: %s).", style, PresetLabel(job.Prompt))
	case domain.ModeStyleTransfer:
		b.WriteString("a portrait matching the artistic style of the attached post image.")
		if job.Prompt != "" {
			b.WriteString(" " + job.Prompt)
		}
	default:
		b.WriteString(job.Prompt)
		if !strings.HasSuffix(job.Prompt, ".") {
			b.WriteString(".")
		}
	}

	b.WriteString(" Keep the subject's facial identity recognizable.")
	if job.AspectRatio == domain.AspectPortrait {
		b.WriteString(" Compose for a tall 9:16 portrait frame.")
	} else {
		b.WriteString(" Compose for a square 1:1 frame.")
	}
	return b.String()
}
