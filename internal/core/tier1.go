package core

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/width"
)

// GenericStoreName is the placeholder used when no merchant name could be
// resolved. A Tier-1 parse that lands on it is treated as quality-
// insufficient and deferred to the later tiers even when the boolean
// classification succeeded: one issuer's format matches the rules but
// mis-parses, and the deferral is what catches it.
const GenericStoreName = "알수없음"

var (
	institutionKeywords = []string{
		"KB", "국민", "신한", "우리", "하나", "농협", "NH", "IBK", "기업",
		"삼성", "현대", "롯데", "BC", "씨티", "카카오", "케이뱅크", "토스",
		"카드", "은행", "체크", "뱅크",
	}
	paymentActionKeywords = []string{
		"승인", "결제", "출금", "사용", "구매", "이체",
	}
	excludedKeywords = []string{
		"광고", "인증번호", "국외발신", "해외발신", "이벤트", "쿠폰",
		"당첨", "설문", "혜택안내",
	}

	currencyAmountRe = regexp.MustCompile(`(잔액\s*)?(\d[\d,]*)\s*원`)
	issuerTagRe      = regexp.MustCompile(`^\[([^\[\]]{1,12})\]`)
	monthDayRe       = regexp.MustCompile(`(\d{1,2})/(\d{1,2})`)
	hourMinuteRe     = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	maskedCardRe     = regexp.MustCompile(`(\d{1,4})\*+`)
)

// categoryKeywords maps merchant-name substrings to spending categories.
var categoryKeywords = map[string][]string{
	"카페":     {"스타벅스", "이디야", "투썸", "커피", "카페", "할리스", "폴바셋"},
	"외식":     {"식당", "치킨", "피자", "버거", "맥도날드", "김밥", "족발", "배달의민족", "요기요"},
	"마트/편의점": {"마트", "편의점", "GS25", "CU", "세븐일레븐", "이마트", "홈플러스", "코스트코"},
	"교통":     {"택시", "버스", "지하철", "철도", "코레일", "주유", "하이패스"},
	"의료":     {"약국", "병원", "의원", "치과", "한의원"},
	"쇼핑":     {"쿠팡", "11번가", "지마켓", "옥션", "무신사", "올리브영"},
}

// Categorize maps a merchant name to a spending category via keyword lookup.
func Categorize(store string) string {
	for category, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(store, kw) {
				return category
			}
		}
	}
	return "기타"
}

// RuleClassifier is Tier 1: regex and keyword heuristics only, no network.
type RuleClassifier struct {
	minAmount int64
	templater *TemplateEngine
	logger    *zap.Logger
}

// NewRuleClassifier creates a Tier-1 classifier.
func NewRuleClassifier(minAmount int64, logger *zap.Logger) *RuleClassifier {
	if minAmount <= 0 {
		minAmount = DefaultMinAmount
	}
	return &RuleClassifier{
		minAmount: minAmount,
		templater: NewTemplateEngine(),
		logger:    logger,
	}
}

// ShouldDrop is the pre-filter: it reports whether body is obviously not a
// payment notification and must never reach embedding. Advertisement and
// verification-code traffic is the bulk of what arrives, and dropping it
// here is what keeps the marginal cost of the pipeline near zero.
func (c *RuleClassifier) ShouldDrop(body string) bool {
	body = width.Narrow.String(body)
	for _, kw := range excludedKeywords {
		if strings.Contains(body, kw) {
			return true
		}
	}
	return !currencyAmountRe.MatchString(body)
}

// IsPayment reports whether body satisfies the Tier-1 rule: a recognized
// financial-institution keyword, a payment-action keyword and a currency
// amount all present, and no excluded keyword.
func (c *RuleClassifier) IsPayment(body string) bool {
	body = width.Narrow.String(body)
	for _, kw := range excludedKeywords {
		if strings.Contains(body, kw) {
			return false
		}
	}
	if !currencyAmountRe.MatchString(body) {
		return false
	}
	if !containsAny(body, institutionKeywords) {
		return false
	}
	return containsAny(body, paymentActionKeywords)
}

// Parse extracts fields with local heuristics only. The boolean result is
// false when no amount at or above the minimum could be found.
func (c *RuleClassifier) Parse(body string, ts time.Time) (*ExtractionResult, bool) {
	body = width.Narrow.String(body)

	amount, amountStart := c.findAmount(body)
	if amount == 0 {
		return nil, false
	}

	store := c.findStore(body, amountStart)
	card := findCard(body)
	when := resolveDateTime(body, ts)

	return &ExtractionResult{
		Amount:   amount,
		Store:    store,
		Card:     card,
		Category: Categorize(store),
		DateTime: when,
	}, true
}

// Classify runs the full Tier-1 decision. The second return value is false
// when Tier 1 cannot speak authoritatively and the message must continue to
// Tier 2/3, including the case where the classification succeeded but the
// parse resolved only the generic store placeholder.
func (c *RuleClassifier) Classify(msg Message) (*ClassificationDecision, *ExtractionResult, bool) {
	if !c.IsPayment(msg.RawText) {
		return nil, nil, false
	}
	result, ok := c.Parse(msg.RawText, msg.Timestamp())
	if !ok {
		return nil, nil, false
	}
	if result.Store == GenericStoreName {
		c.logger.Debug("Tier-1 parse quality insufficient, deferring",
			zap.String("message_id", msg.ID))
		return nil, nil, false
	}
	return &ClassificationDecision{
		MessageID:  msg.ID,
		IsPayment:  true,
		Tier:       1,
		Confidence: 0.99,
		Result:     result,
	}, result, true
}

// findAmount returns the first currency amount that is not balance-prefixed
// and meets the minimum, along with its match start offset.
func (c *RuleClassifier) findAmount(body string) (int64, int) {
	for _, loc := range currencyAmountRe.FindAllStringSubmatchIndex(body, -1) {
		if loc[2] != -1 {
			// Balance-prefixed: the remaining funds, not the charge.
			continue
		}
		digits := strings.ReplaceAll(body[loc[4]:loc[5]], ",", "")
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil || n < c.minAmount {
			continue
		}
		return n, loc[0]
	}
	return 0, 0
}

// findStore resolves the merchant name. Single-line formats carry it between
// the time token and the amount; multi-line formats carry it on its own line.
func (c *RuleClassifier) findStore(body string, amountStart int) string {
	head := body[:amountStart]
	if idx := hourMinuteRe.FindStringIndex(head); idx != nil {
		candidate := strings.TrimSpace(head[idx[1]:])
		candidate = strings.Trim(candidate, "()[]*")
		if candidate != "" && isValidField(candidate, 2, 30, storeBannedKeywords) {
			return candidate
		}
	}
	// Fall back to the multi-line merchant heuristic.
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if currencyAmountRe.MatchString(trimmed) || hourMinuteRe.MatchString(trimmed) {
			continue
		}
		if issuerTagRe.MatchString(trimmed) || containsAny(trimmed, paymentActionKeywords) {
			continue
		}
		if c.templater.looksLikeStoreLine(trimmed) && isValidField(trimmed, 2, 30, storeBannedKeywords) {
			return trimmed
		}
	}
	return GenericStoreName
}

// findCard resolves the issuing card from the leading bracket tag, a masked
// card number, or an institution keyword followed by 카드/체크.
func findCard(body string) string {
	if m := issuerTagRe.FindStringSubmatch(body); m != nil {
		tag := strings.TrimSpace(m[1])
		if isValidField(tag, 2, 20, cardBannedKeywords) {
			return tag
		}
	}
	if m := maskedCardRe.FindStringSubmatch(body); m != nil {
		return m[1] + "*"
	}
	for _, kw := range institutionKeywords {
		for _, suffix := range []string{"카드", "체크"} {
			if kw == "카드" || kw == "체크" {
				continue
			}
			if strings.Contains(body, kw+suffix) {
				return kw + suffix
			}
		}
	}
	return ""
}

// resolveDateTime combines an in-message MM/DD and HH:MM with the message
// timestamp's year, falling back to the timestamp itself.
func resolveDateTime(body string, ts time.Time) time.Time {
	md := monthDayRe.FindStringSubmatch(body)
	hm := hourMinuteRe.FindStringSubmatch(body)
	if md == nil || hm == nil {
		return ts
	}
	month, _ := strconv.Atoi(md[1])
	day, _ := strconv.Atoi(md[2])
	hour, _ := strconv.Atoi(hm[1])
	minute, _ := strconv.Atoi(hm[2])
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return ts
	}
	return time.Date(ts.Year(), time.Month(month), day, hour, minute, 0, 0, ts.Location())
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
