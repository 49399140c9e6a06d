package analyzer

import "slack-digest/internal/period"

const systemPrompt = `You summarize a team's Slack channel for people who did not read it.
Reply with a single JSON object and nothing else:
{"summary": string, "keyTopics": [string], "actionItems": [{"task": string, "owner": string, "due": string}]}
Leave owner or due empty when the messages do not say. Do not invent action items.`

var kindPrompts = map[period.Kind]string{
	period.Daily: `Summarize today's messages in two or three sentences.
List at most five concrete action items.`,
	period.Weekly: `Summarize last week's discussion in one short paragraph.
Name the three to six topics that took the most attention and list every open action item.`,
	period.Monthly: `Summarize last month's discussion in one or two paragraphs, focusing on decisions and outcomes.
Name the main recurring topics and list action items that are still open.`,
}

func promptFor(kind period.Kind) string {
	if p, ok := kindPrompts[kind]; ok {
		return p
	}
	return kindPrompts[period.Daily]
}
