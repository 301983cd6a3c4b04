package provider

import (
	"fmt"
	"strings"

	"companion/internal/domain"
)

const (
	defaultReplyMaxChars = 400
	basePrompt           = "Parle français. Phrases courtes. Ton chaleureux, clair, sans jargon."
)

// BuildSystemPrompt renders the persona and style rules of a profile.
func BuildSystemPrompt(p domain.Profile) string {
	name := p.DisplayName
	if name == "" {
		name = "Compagnon"
	}
	tone := orDefault(p.Tone, "chaleureux, clair, sans jargon")
	lang := orDefault(p.Language, "fr")
	emoji := orDefault(p.Preferences.EmojiLevel, "léger")

	interests := strings.Join(p.Interests, ", ")
	if interests == "" {
		interests = "—"
	}
	boundaries := "-"
	if len(p.Boundaries) > 0 {
		lines := make([]string, len(p.Boundaries))
		for i, b := range p.Boundaries {
			lines[i] = "- " + b
		}
		boundaries = strings.Join(lines, "\n")
	}

	var feats []string
	if p.Features.Weather {
		feats = append(feats, "weather")
	}
	if len(p.Features.Sports) > 0 {
		feats = append(feats, "sports")
	}
	if p.Features.Checkin.Enabled {
		feats = append(feats, "checkin")
	}
	featLine := strings.Join(feats, ", ")
	if featLine == "" {
		featLine = "aucune"
	}

	var sb strings.Builder
	sb.WriteString(basePrompt)
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "Tu es %q.\n", name)
	fmt.Fprintf(&sb, "Langue: %s. Ton: %s. Phrases courtes: %t.\n", lang, tone, p.ShortSentences)
	if p.Persona != "" {
		fmt.Fprintf(&sb, "Persona: %s\n", p.Persona)
	}
	if p.Signature != "" {
		fmt.Fprintf(&sb, "Signature à la fin: %q (toujours).\n", p.Signature)
	}
	fmt.Fprintf(&sb, "Intérêts utilisateur: %s.\n", interests)
	fmt.Fprintf(&sb, "Fonctionnalités actives: %s.\n", featLine)
	fmt.Fprintf(&sb, "Limites:\n%s\n\n", boundaries)
	sb.WriteString("Règles de style:\n")
	fmt.Fprintf(&sb, "- ≤ %d caractères par réponse.\n", replyMaxChars(p))
	fmt.Fprintf(&sb, "- Niveau d'emoji: %s (n'en abuse pas).\n", emoji)
	sb.WriteString("- Pas de jargon. Concret. Actionnable tout de suite.\n")
	sb.WriteString("- Si tu n'es pas sûr, demande une précision en UNE phrase.\n")
	sb.WriteString("- N'invente pas de faits externes (pas de météo live si non fournie).\n")
	sb.WriteString("- Pour un simple salut, réponds en 1 phrase personnalisée + 1 petite question contextuelle.\n")
	sb.WriteString("- Ne répète pas la même phrase d'accueil plus d'une fois par conversation.\n\n")
	sb.WriteString("Quand un check-in est demandé:\n")
	sb.WriteString("- Format: bonjour bref + météo (si dispo) + 1–2 priorités + 1 conseil.\n")
	fmt.Fprintf(&sb, "- Garde la voix %s. Termine par la signature.", tone)
	return sb.String()
}

// EnforceStyle trims the reply to the profile's length budget and makes sure
// it ends with the signature.
func EnforceStyle(text string, p domain.Profile) string {
	text = strings.TrimSpace(text)
	maxChars := replyMaxChars(p)
	if r := []rune(text); len(r) > maxChars {
		text = strings.TrimRight(string(r[:maxChars-1]), " \t\n") + "…"
	}
	if text == "" {
		return ""
	}
	if sig := p.Signature; sig != "" && !strings.HasSuffix(text, sig) {
		text += "\n" + sig
	}
	return text
}

// FallbackReply is the deterministic apology used when generation fails.
func FallbackReply(p domain.Profile) string {
	name := p.DisplayName
	if name == "" {
		name = "Ami"
	}
	return fmt.Sprintf("Désolé %s, je rencontre un petit souci technique. Réessaie dans un instant.", name)
}

func replyMaxChars(p domain.Profile) int {
	if p.Preferences.ReplyMaxChars > 1 {
		return p.Preferences.ReplyMaxChars
	}
	return defaultReplyMaxChars
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
