package index

// stopWords is the English stoplist applied identically at tokenization
// time for both the stage-1 FTS5 MATCH query and stage-2 BM25 scoring, so
// that candidate narrowing never rejects a term stage 2 would have scored.
var stopWords = buildStopWords(
	"a", "an", "the", "and", "or", "but", "if", "then", "else", "when",
	"at", "by", "for", "with", "about", "against", "between", "into",
	"through", "during", "before", "after", "above", "below", "to", "from",
	"up", "down", "in", "out", "on", "off", "over", "under", "again", "further",
	"once", "here", "there", "all", "each", "few", "more", "most", "other",
	"some", "such", "no", "nor", "not", "only", "own", "same", "so", "than",
	"too", "very", "just", "can", "will", "should", "now",
	"i", "me", "my", "myself", "we", "our", "ours", "ourselves",
	"you", "your", "yours", "yourself", "yourselves",
	"he", "him", "his", "himself", "she", "her", "hers", "herself",
	"it", "its", "itself", "they", "them", "their", "theirs", "themselves",
	"what", "which", "who", "whom", "this", "that", "these", "those",
	"am", "is", "are", "was", "were", "be", "been", "being",
	"have", "has", "had", "having", "do", "does", "did", "doing",
	"would", "could", "ought", "of", "as", "how", "why", "because", "while",
	"also", "any", "both", "either", "neither",
	"may", "might", "must", "shall",
	"where", "until", "since", "yet", "still", "upon", "within", "without", "well",
	"ll", "ve", "re", "d", "m", "s", "t", "don", "won", "aren", "couldn",
	"didn", "doesn", "hadn", "hasn", "haven", "isn", "mustn", "needn",
	"shan", "shouldn", "wasn", "weren", "wouldn",
)

func buildStopWords(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
