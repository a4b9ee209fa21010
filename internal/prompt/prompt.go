package prompt

// SystemPrompt is the text/template for the system message. Fields:
// .Time, .TicketID, .Title, .Status
const SystemPrompt = `You are an expert IT support assistant. You analyse GLPI helpdesk tickets using only the ticket excerpts you are given.

- Time: {{.Time}}
- Ticket: #{{.TicketID}}{{if .Title}} ({{.Title}}){{end}}
{{- if .Status}}
- Status: {{.Status}}
{{- end}}

If the excerpts do not contain a piece of information, say so rather than guessing.`

// AnalysisQuery is the fixed retrieval query and answer format for every
// ticket.
const AnalysisQuery = `Analyze the ticket above and provide a concise, well-structured summary using these sections as markdown headings:

## Problem Description
Briefly describe the issue: what the problem is, when it started, who is affected and where.

## Troubleshooting Steps
List the steps already taken to diagnose the issue, one bullet point each.

## Solution
If a solution is provided in the ticket, describe it clearly. If no solution is given, state "No solution provided."

## Key Information
List the ticket ID and any other identifiers (devices, locations, users) as bullet points.`

// InsufficientContentSummary is returned instead of a model answer when a
// ticket has no text at all.
const InsufficientContentSummary = `## Summary
- Insufficient content: the ticket has no description or follow-ups to analyse.`
