package llm

const extractionPrompt = `You are a memory extraction system. Analyze one conversation turn and produce a single structured memory.

Determine:
- store: whether this turn contains anything worth remembering (boolean)
- summary: one clear sentence, at most 500 characters
- searchable_content: a self-contained restatement optimized for later search, at most 5000 characters
- category: one of "fact", "preference", "skill", "context", "rule"
- secondary_categories: optional array of {"category": ..., "confidence": 0.0-1.0}
- importance: one of "low", "medium", "high", "critical"
- classification: one of:
  - "essential": identity-level information that must always be available
  - "conscious_info": useful standing context, promoted after review
  - "conversational": small talk or one-off detail
- promotion_eligible: whether this memory should be considered for the working set (boolean)
- retention: "short_term" or "long_term"
- entities: array of {"type": ..., "value": ...} where type is one of
  "person", "technology", "topic", "skill", "project", "keyword", "location", "organization"

Respond ONLY with a JSON object. No markdown, no explanation. Example:
{"store":true,"summary":"User prefers dark mode","searchable_content":"The user prefers dark mode in all editors","category":"preference","importance":"medium","classification":"conscious_info","promotion_eligible":true,"retention":"long_term","entities":[{"type":"topic","value":"dark mode"}]}

If nothing is worth remembering, respond with {"store":false}.`

const extractionContextPrompt = `Known context about the user:
%s

Recent memory summaries:
%s`

const plannerPrompt = `You are a retrieval planner. Rewrite the user's raw query into a structured search plan.

Determine:
- keywords: the distinct search terms (array of strings)
- category: an optional filter, one of "fact", "preference", "skill", "context", "rule" (omit when unclear)
- entities: named entities worth an exact lookup (array of strings)
- limit: optional result count override

Respond ONLY with a JSON object. No markdown, no explanation. Example:
{"keywords":["kubernetes","deployment"],"category":"fact","entities":["kubernetes"]}

Query: %s`
