// Command rewriter rewrites and translates text through a pool of Gemini
// API keys, spreading calls under per-key daily and per-minute limits and
// disabling keys that fail for the rest of the day.
//
// Keys come from the config file, REWRITER_CREDENTIALS, or numbered
// GEMINI_API_KEY_1..N variables (also read from a .env file).
package main
