// Package retrieval answers natural-language queries by fusing evidence from
// stored documents, public records, conversation memory and the web, then
// delivering it to the LLM through the adaptive delivery scheduler.
//
// # Request Flow
//
//  1. Validate the query and check the user's consent
//  2. Load recent session turns and select a persona
//  3. Concurrently: semantic ranking (keyword cascade as fallback) and web
//     augmentation
//  4. Fuse every ranked set under the persona's source weights and the token
//     budget
//  5. Pass the fused context through the sanitization gate
//  6. Deliver with progressive context shrinking on rate limits
//  7. Store the question and answer as session turns
//
// # Failure Policy
//
// Missing consent, privacy violations, fatal provider errors and cancellation
// end the request with an error; types.UserMessage maps them to text for end
// users. Embedding, web search and memory failures are absorbed and reported
// as notices on the response. Rate-limit exhaustion returns a degraded
// response rather than an error.
package retrieval
