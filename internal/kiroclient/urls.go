package kiroclient

import "fmt"

const DefaultRegion = "us-east-1"

// GenerateAssistantResponseURL returns the streaming chat endpoint for the
// given region.
func GenerateAssistantResponseURL(region string) string {
	if region == "" {
		region = DefaultRegion
	}
	return fmt.Sprintf("https://codewhisperer.%s.amazonaws.com/generateAssistantResponse", region)
}

// MCPURL returns the endpoint used for the web_search tool's MCP calls.
func MCPURL(region string) string {
	if region == "" {
		region = DefaultRegion
	}
	return fmt.Sprintf("https://codewhisperer.%s.amazonaws.com/mcp", region)
}
