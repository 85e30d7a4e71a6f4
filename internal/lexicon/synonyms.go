package lexicon

import (
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// defaultSynonyms maps a canonical term to the phrasings that mean the same
// event. Keys and values are normalized on load.
var defaultSynonyms = map[string][]string{
	// Procedures.
	"coiling":       {"endovascular coiling", "coil embolization", "endovascular coil embolization", "aneurysm coiling", "coiled"},
	"clipping":      {"surgical clipping", "aneurysm clipping", "microsurgical clipping", "clipped"},
	"evd placement": {"evd", "external ventricular drain", "external ventricular drain placement", "ventriculostomy"},
	"angiogram":     {"cerebral angiogram", "cerebral angiography", "angiography", "diagnostic cerebral angiogram", "dsa", "digital subtraction angiography"},
	"vp shunt":      {"ventriculoperitoneal shunt", "vps", "vp shunt placement", "ventriculoperitoneal shunt placement"},
	"tracheostomy":  {"trach", "trach placement"},
	"peg":           {"peg tube", "peg placement", "gastrostomy", "percutaneous endoscopic gastrostomy"},
	"lumbar drain":  {"lumbar drain placement", "ld placement"},
	"craniotomy":    {"crani"},
	"intubation":    {"intubated", "endotracheal intubation"},

	// Complications.
	"vasospasm":             {"cerebral vasospasm", "angiographic vasospasm", "symptomatic vasospasm"},
	"hydrocephalus":         {"acute hydrocephalus"},
	"dci":                   {"delayed cerebral ischemia"},
	"seizure":               {"seizures", "seizure activity"},
	"pneumonia":             {"pna"},
	"uti":                   {"urinary tract infection"},
	"dvt":                   {"deep vein thrombosis", "deep venous thrombosis"},
	"pe":                    {"pulmonary embolism"},
	"rebleed":               {"rebleeding", "aneurysm rerupture", "re rupture", "rerupture"},
	"hyponatremia":          {"low sodium"},
	"ventriculitis":         {"evd infection"},
	"cerebral salt wasting": {"csw"},

	// Medications.
	"nimodipine":    {"nimotop"},
	"levetiracetam": {"keppra"},
	"nicardipine":   {"cardene"},
	"heparin":       {"heparin drip", "heparin gtt", "heparin infusion"},
	"vancomycin":    {"vanc", "vanco"},

	// Imaging.
	"ct head":   {"head ct", "noncontrast head ct", "non contrast head ct", "ct brain"},
	"mri brain": {"brain mri", "mri head"},
}

// Lexicon resolves synonymous phrases to a canonical key. It is immutable
// after construction and safe for concurrent use.
type Lexicon struct {
	canon   map[string]string // normalized phrase -> normalized canonical
	groups  map[string][]string
	phrases [][]string // tokenized phrases, longest first
}

// Default returns the built-in lexicon.
func Default() *Lexicon {
	return New(defaultSynonyms)
}

// New builds a lexicon from canonical term -> synonyms.
func New(groups map[string][]string) *Lexicon {
	l := &Lexicon{
		canon:  make(map[string]string),
		groups: make(map[string][]string),
	}
	l.add(groups)
	return l
}

// With returns a new lexicon containing l's groups plus extra. Extra
// phrases override existing assignments.
func (l *Lexicon) With(extra map[string][]string) *Lexicon {
	out := &Lexicon{
		canon:  make(map[string]string, len(l.canon)),
		groups: make(map[string][]string, len(l.groups)),
	}
	for k, v := range l.canon {
		out.canon[k] = v
	}
	for k, v := range l.groups {
		out.groups[k] = slices.Clone(v)
	}
	out.add(extra)
	return out
}

func (l *Lexicon) add(groups map[string][]string) {
	// Sorted for a deterministic result when the same phrase appears in two groups.
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		canonical := Normalize(key)
		if canonical == "" {
			continue
		}
		l.assign(canonical, canonical)
		for _, syn := range groups[key] {
			if n := Normalize(syn); n != "" {
				l.assign(n, canonical)
			}
		}
	}

	l.phrases = l.phrases[:0]
	for phrase := range l.canon {
		l.phrases = append(l.phrases, strings.Fields(phrase))
	}
	sort.Slice(l.phrases, func(i, j int) bool {
		if len(l.phrases[i]) != len(l.phrases[j]) {
			return len(l.phrases[i]) > len(l.phrases[j])
		}
		return strings.Join(l.phrases[i], " ") < strings.Join(l.phrases[j], " ")
	})
}

func (l *Lexicon) assign(phrase, canonical string) {
	if prev, ok := l.canon[phrase]; ok && prev != canonical {
		l.groups[prev] = slices.DeleteFunc(l.groups[prev], func(p string) bool { return p == phrase })
	}
	l.canon[phrase] = canonical
	if !slices.Contains(l.groups[canonical], phrase) {
		l.groups[canonical] = append(l.groups[canonical], phrase)
	}
}

// Canonicalize rewrites a normalized name, replacing every known phrase
// (longest match first, on word boundaries) with its canonical term.
func (l *Lexicon) Canonicalize(normalized string) string {
	words := strings.Fields(normalized)
	if len(words) == 0 {
		return ""
	}
	out := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		matched := false
		for _, p := range l.phrases {
			if len(p) > len(words)-i || !slices.Equal(words[i:i+len(p)], p) {
				continue
			}
			out = append(out, l.canon[strings.Join(p, " ")])
			i += len(p)
			matched = true
			break
		}
		if !matched {
			out = append(out, words[i])
			i++
		}
	}
	return strings.Join(out, " ")
}

// Variants returns the normalized name followed by every synonym of its
// canonical term, for locating other occurrences of the same entity in text.
func (l *Lexicon) Variants(name string) []string {
	n := Normalize(name)
	if n == "" {
		return nil
	}
	variants := []string{n}
	canonical := l.Canonicalize(n)
	group := slices.Clone(l.groups[canonical])
	sort.Strings(group)
	for _, p := range group {
		if !slices.Contains(variants, p) {
			variants = append(variants, p)
		}
	}
	return variants
}

// Size returns the number of known phrases.
func (l *Lexicon) Size() int {
	return len(l.canon)
}

// synonymFile is the on-disk YAML layout:
//
//	synonyms:
//	  coiling: [endovascular coiling, coil embolization]
type synonymFile struct {
	Synonyms map[string][]string `yaml:"synonyms"`
}

// Load returns the default lexicon extended with the groups in a YAML file.
// An empty path returns the default lexicon.
func Load(path string) (*Lexicon, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "lexicon: read synonyms %s", path)
	}
	var f synonymFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "lexicon: parse synonyms")
	}
	return Default().With(f.Synonyms), nil
}
