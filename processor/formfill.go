package processor

import (
	"fmt"
	"strings"
	"time"

	"flatbot/browser"
	"flatbot/utils"
)

// FormValue is one configured application-form entry. A form field is only
// written when both its name and its type match exactly.
type FormValue struct {
	Name  string
	Type  string
	Value string
}

// FormField is one visible input discovered on the page.
type FormField struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Idx  int    `json:"idx"`
}

// MatchFormValue finds the configured value for a discovered field. Matching
// is exact on the (name, type) pair; a name-only match is not enough.
func MatchFormValue(f FormField, values []FormValue) (FormValue, bool) {
	for _, v := range values {
		if v.Name == f.Name && v.Type == f.Type {
			return v, true
		}
	}
	return FormValue{}, false
}

// discoverFieldsJS enumerates all visible input/textarea/select elements,
// tagging each with a data attribute so it can be addressed afterwards.
// Fields may lazy-load as the page scrolls, so callers scroll to the bottom
// first.
const discoverFieldsJS = `
	(function() {
		var out = [];
		var els = document.querySelectorAll('input, textarea, select');
		for (var i = 0; i < els.length; i++) {
			var el = els[i];
			var tag = el.tagName.toLowerCase();
			var type = tag === 'select' ? 'select'
				: (el.getAttribute('type') || tag).toLowerCase();
			if (type === 'hidden') continue;
			if (el.offsetParent === null) continue;
			el.setAttribute('data-ff-idx', String(out.length));
			out.push({name: el.getAttribute('name') || '', type: type, idx: out.length});
		}
		return out;
	})()
`

// FillForm discovers the visible form fields on the current page and fills
// every one that has an exact (name, type) match in values. Unmatched fields
// are skipped, never errors. Returns the number of fields written.
func FillForm(s *browser.Session, values []FormValue, log *utils.Logger) (int, error) {
	s.ScrollToBottom()

	var fields []FormField
	if err := s.Eval(discoverFieldsJS, &fields); err != nil {
		return 0, fmt.Errorf("formfill: discover fields: %w", err)
	}
	log.Debug("[formfill] Discovered %d visible fields", len(fields))

	filled := 0
	for _, f := range fields {
		v, ok := MatchFormValue(f, values)
		if !ok || v.Value == "" {
			log.Debug("[formfill] Skipping field name=%q type=%q", f.Name, f.Type)
			continue
		}

		sel := fmt.Sprintf("[data-ff-idx='%d']", f.Idx)
		var err error
		switch f.Type {
		case "select":
			err = s.SelectByLabel(sel, v.Value)
		case "checkbox":
			err = s.SetChecked(sel, isTruthy(v.Value))
		default:
			// text, textarea, email, tel, number
			err = s.TypeHuman(sel, v.Value)
		}
		if err != nil {
			log.Debug("[formfill] Could not fill field %q: %v", f.Name, err)
			continue
		}
		filled++
		s.Pause(300*time.Millisecond, 900*time.Millisecond)
	}

	log.Info("[formfill] Filled %d/%d discovered fields", filled, len(fields))
	return filled, nil
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "1":
		return true
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
