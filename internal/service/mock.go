package service

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

var mockServices = []string{
	"GitHub", "Slack", "Notion", "Vercel", "Stripe", "Linear", "Figma", "Discord",
}

var mockSubjects = []string{
	"Your %s verification code",
	"%s: confirm your email address",
	"Sign in to %s",
	"%s security code",
}

var mockBodies = []string{
	"Hi there,\n\nYour %s verification code is %s.\nIt expires in 10 minutes.\n\nIf you did not request this, ignore this email.",
	"Use %s to finish signing in to %s.\n\nThis code can only be used once.",
	"Welcome to %s!\n\nEnter the following code to confirm your address: %s\n\nThanks,\nThe team",
}

// mockEmail 是合成的测试邮件内容
type mockEmail struct {
	From    string
	Subject string
	Body    string
	Code    string
}

// generateMockEmail 生成一封带 6 位数字验证码的模拟验证邮件
func generateMockEmail() mockEmail {
	brand := mockServices[rand.IntN(len(mockServices))]
	code := fmt.Sprintf("%06d", 100000+rand.IntN(900000))

	var body string
	switch i := rand.IntN(len(mockBodies)); i {
	case 1:
		body = fmt.Sprintf(mockBodies[i], code, brand)
	default:
		body = fmt.Sprintf(mockBodies[i], brand, code)
	}

	return mockEmail{
		From:    fmt.Sprintf("no-reply@%s.example", strings.ToLower(brand)),
		Subject: fmt.Sprintf(mockSubjects[rand.IntN(len(mockSubjects))], brand),
		Body:    body,
		Code:    code,
	}
}
