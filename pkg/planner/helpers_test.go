package planner

import "github.com/praxisworks/praxis/pkg/llms"

func textResponse(text string) *llms.Response {
	return &llms.Response{Text: text}
}
