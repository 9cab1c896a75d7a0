package response

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

// Replies always use HTTP 200. A failure carries its errcode value in the
// body's code field.

type bizError struct {
	code int
	msg  string
}

func (e *bizError) Error() string { return e.msg }

func (e *bizError) Code() uint32 { return uint32(e.code) }

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, 200, &bizError{code: code, msg: message})
}

// Rule turns errors accepted by Match into Code. Text is sent instead of
// the error string unless Expose is set.
type Rule struct {
	Match  func(err error) bool
	Code   int
	Text   string
	Expose bool
}

// Mapper resolves errors against its rules in order.
type Mapper struct {
	rules    []Rule
	fallback Rule
}

func NewMapper(fallbackCode int, fallbackText string, rules ...Rule) *Mapper {
	return &Mapper{
		rules:    rules,
		fallback: Rule{Code: fallbackCode, Text: fallbackText},
	}
}

func (m *Mapper) Resolve(err error) (int, string) {
	rule := m.fallback
	for _, r := range m.rules {
		if r.Match(err) {
			rule = r
			break
		}
	}
	if rule.Expose {
		return rule.Code, err.Error()
	}
	return rule.Code, rule.Text
}

func (m *Mapper) Fail(c *gin.Context, err error) {
	code, msg := m.Resolve(err)
	Error(c, code, msg)
}
