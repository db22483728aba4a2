package oidc

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/language"
)

// Locales is a list of BCP47 language tags, used for
// `claims_locales_supported` / `ui_locales_supported` on discovery
// metadata. OIDC Discovery 1.0 carries both as a JSON array of strings,
// not a single delimited string.
type Locales []language.Tag

func (l *Locales) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*l = nil
	for _, raw := range tags {
		tag, err := language.Parse(raw)
		if err == nil && !tag.IsRoot() {
			*l = append(*l, tag)
		}
	}
	return nil
}

func (l Locales) String() string {
	parts := make([]string, len(l))
	for i, tag := range l {
		parts[i] = tag.String()
	}
	return strings.Join(parts, " ")
}
