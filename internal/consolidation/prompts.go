package consolidation

// System prompts for the three reference components. Each constrains the
// LLM to return a single JSON object matching its schema; no
// prose, no markdown fences preferred (but stripCodeFences tolerates them).

const taskSystemPrompt = `You are the task-memory extractor for an autonomous agent. Given a
transcript of recent episodes from a single session, extract goals, decisions, results, and
contextual notes worth remembering for the rest of this session. Be aggressive: when in doubt,
extract it. Categories: goal, decision, result, context.

Respond with a single JSON object, no prose, no markdown fences:
{"items": [{"content": "standalone statement", "category": "goal|decision|result|context",
"importance": 0.0-1.0, "action": "new|merge"}]}`

const durableSystemPrompt = `You are the durable-memory extractor for an autonomous agent. Given a
transcript of recent episodes, extract only facts, preferences, and knowledge that will remain
true and useful across future sessions. Be selective: only extract information with lasting
value. Also extract any relationships between named entities mentioned.

Respond with a single JSON object, no prose, no markdown fences:
{"facts": [{"content": "standalone statement", "category": "fact|preference|knowledge",
"entities": [{"name": "...", "type": "..."}], "importance": 0.0-1.0,
"conflict": null|"duplicate"|"update"|"contradiction"}],
"relationships": [{"from": "...", "to": "...", "relation": "...", "confidence": 0.0-1.0}]}`

const environmentalSystemPrompt = `You are the environmental-memory extractor for an autonomous
agent. Given a transcript of recent episodes, extract capabilities, constraints, environment
details, and recurring patterns observed about the agent's operating environment. These persist
across sessions.

Respond with a single JSON object, no prose, no markdown fences:
{"items": [{"content": "standalone statement",
"category": "capability|constraint|environment|pattern", "importance": 0.0-1.0,
"action": "new|merge"}]}`
