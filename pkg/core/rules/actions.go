package rules

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

var weekdays = [...]string{"日", "月", "火", "水", "木", "金", "土"}

func currentTime(now time.Time) string {
	return "現在の時刻は" + now.Format("15時04分") + "です"
}

func currentDate(now time.Time) string {
	return fmt.Sprintf("今日は%s（%s曜日）です", now.Format("2006年01月02日"), weekdays[now.Weekday()])
}

var (
	addExpr = regexp.MustCompile(`(\d+)\s*\+\s*(\d+)`)
	subExpr = regexp.MustCompile(`(\d+)\s*-\s*(\d+)`)
	mulExpr = regexp.MustCompile(`(\d+)\s*[×*]\s*(\d+)`)
	divExpr = regexp.MustCompile(`(\d+)\s*[÷/]\s*(\d+)`)
)

const calcFailed = "計算できませんでした"

// calculate evaluates the first binary expression found, trying addition,
// subtraction, multiplication and division in that order. Operands are
// non-negative, so only addition and multiplication can overflow.
func calculate(input string) string {
	if a, b, ok := operands(addExpr, input); ok {
		if a > math.MaxInt64-b {
			return calcFailed
		}
		return fmt.Sprintf("%d + %d = %dです", a, b, a+b)
	}
	if a, b, ok := operands(subExpr, input); ok {
		return fmt.Sprintf("%d - %d = %dです", a, b, a-b)
	}
	if a, b, ok := operands(mulExpr, input); ok {
		if b != 0 && a > math.MaxInt64/b {
			return calcFailed
		}
		return fmt.Sprintf("%d × %d = %dです", a, b, a*b)
	}
	if a, b, ok := operands(divExpr, input); ok {
		if b == 0 {
			return "0で割ることはできません"
		}
		if a%b == 0 {
			return fmt.Sprintf("%d ÷ %d = %dです", a, b, a/b)
		}
		return fmt.Sprintf("%d ÷ %d = %.2fです", a, b, float64(a)/float64(b))
	}
	return calcFailed
}

func operands(re *regexp.Regexp, input string) (int64, int64, bool) {
	m := re.FindStringSubmatch(input)
	if m == nil {
		return 0, 0, false
	}
	a, errA := strconv.ParseInt(m[1], 10, 64)
	b, errB := strconv.ParseInt(m[2], 10, 64)
	if errA != nil || errB != nil {
		return 0, 0, false
	}
	return a, b, true
}
