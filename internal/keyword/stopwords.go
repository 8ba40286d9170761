package keyword

// stopWords covers Italian and English function words plus the query
// boilerplate users type in front of record searches.
var stopWords = toSet(
	// italian
	"il", "lo", "la", "i", "gli", "le", "un", "uno", "una", "di", "del", "dello", "della", "dei",
	"degli", "delle", "da", "dal", "dallo", "dalla", "dai", "dagli", "dalle", "in", "nel", "nello",
	"nella", "nei", "negli", "nelle", "con", "su", "sul", "sullo", "sulla", "sui", "sugli", "sulle",
	"per", "tra", "fra", "che", "chi", "cui", "non", "come", "dove", "quando", "quale", "quali",
	"sono", "essere", "era", "stato", "stata", "anche", "alla", "alle", "allo", "agli", "all",
	"mostra", "mostrami", "trova", "trovami", "cerca", "cercami", "elenco", "elenca", "tutti",
	"tutte", "quanti", "quante", "qual", "voglio", "vorrei", "sapere", "dammi", "atti", "atto",
	"documenti", "documento", "protocollo", "prot",
	// english
	"the", "and", "for", "with", "from", "that", "this", "what", "which", "who", "where", "when",
	"are", "was", "were", "has", "have", "had", "about", "into", "show", "find", "list", "all",
	"any", "please", "give", "records", "record", "documents", "document",
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
