package grouping

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	fallbackGroupKey      = "Group %d"
	fallbackIceBreakerKey = "Share a fun fact about yourself!"
)

var supportedLocales = []language.Tag{
	language.English,
	language.TraditionalChinese,
	language.SimplifiedChinese,
}

func init() {
	_ = message.SetString(language.TraditionalChinese, fallbackGroupKey, "第 %d 組")
	_ = message.SetString(language.TraditionalChinese, fallbackIceBreakerKey, "分享一個關於你自己的有趣小事！")
	_ = message.SetString(language.SimplifiedChinese, fallbackGroupKey, "第 %d 组")
	_ = message.SetString(language.SimplifiedChinese, fallbackIceBreakerKey, "分享一个关于你自己的有趣小事！")
}

// Labels renders the local fallback text in one locale.
type Labels struct {
	printer *message.Printer
}

// NewLabels picks the closest supported locale; unknown or empty locales get English.
func NewLabels(locale string) Labels {
	tag := language.English
	if locale != "" {
		if parsed, err := language.Parse(locale); err == nil {
			_, idx, _ := language.NewMatcher(supportedLocales).Match(parsed)
			tag = supportedLocales[idx]
		}
	}
	return Labels{printer: message.NewPrinter(tag)}
}

func (l Labels) p() *message.Printer {
	if l.printer == nil {
		return message.NewPrinter(language.English)
	}
	return l.printer
}

// Group returns the fallback name for the group at zero-based index i.
func (l Labels) Group(i int) string {
	return l.p().Sprintf(fallbackGroupKey, i+1)
}

func (l Labels) IceBreaker() string {
	return l.p().Sprintf(fallbackIceBreakerKey)
}
