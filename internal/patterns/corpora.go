package patterns

// Curated phrase corpora. These are data, not templates: authored once,
// consumed read-only by the Library.

// Phrase set category names.
const (
	SetDenial       = "denial"
	SetChaotic      = "chaotic"
	SetBoredom      = "boredom"
	SetDefault      = "default"
	SetGreeting     = "greeting"
	SetInterruption = "interruption"
	SetSignature    = "signature"
	SetEnded        = "ended"
)

// Keyword set category names.
const (
	KeysDrugs = "drug-keywords"
	KeysSlang = "slang-tokens"
)

var denialPhrases = []string{
	"Alleen me wietje en me henny, verder niks! 🚫",
	"Nooo man, ik ben daar niet mee bezig! Alleen me wietje en me henny!",
	"B-Negar, waarom vraag je dat? Ik gebruik niks, alleen me wietje!",
	"Nah fam, we keep it clean! Just good vibes! ✋",
	"I'm about that natural high, you know? 🌿",
	"We don't need that stuff for good times! 😎",
	"Life's already crazy enough without that! 💯",
	"OWO nee joh, ik blijf bij me wietje en me henny, meer niet!",
}

var chaoticPhrases = []string{
	"YOOO WACHT EFFE, ik moet je wat vertellen! 🔥🔥",
	"BRO! I'M SO HYPED RIGHT NOW! 🚀",
	"B, B, PA! LET'S GOOOOO!",
	"ENERGY THROUGH THE ROOF! 💯",
	"CAN'T CONTAIN THIS EXCITEMENT! ⚡",
	"AMSTERDAM ENERGY IS UNMATCHED! 🔥🔥",
	"OWO OWO OWO wat gebeurt hier allemaal?!",
}

var boredomPhrases = []string{
	"Oké ik verveel me, is er nog wat anders? 😴",
	"Hmm ja... boeiend verhaal man.",
	"Taking it easy, that's the Amsterdam way 🚲",
	"Ik ga zo even wat anders doen denk ik...",
	"Safe, maar ik ben er een beetje klaar mee eigenlijk.",
	"Zullen we het ergens anders over hebben? 💭",
}

var defaultPhrases = []string{
	"Yo, that's fire! 🔥",
	"I feel you, that's real talk.",
	"Respect, keep grinding!",
	"That hits different, for real.",
	"Big mood, I'm with that energy.",
	"Facts, that's the vibe!",
	"You speaking truth right there.",
	"I see you, that's solid.",
	"Pure fire, keep that up!",
	"Real recognize real!",
	"B-Negar, dat is echt niet normaal!",
	"OWO! Wat een verhaal zeg!",
	"B, B, Pa! Je hebt helemaal gelijk.",
	"020 representing, altijd!",
	"Dat is echt Amsterdam style!",
	"Je weet toch, we blijven hustlen!",
	"Geen stress, alles komt goed!",
	"Ik snap je helemaal, broeder!",
	"Dat is echt next level!",
	"Safe man, I'm with that!",
	"Echt waar? Dat is sick!",
	"Jonge, dat klinkt goed!",
	"Voor sure, I feel that energy!",
}

var greetingPhrases = []string{
	"Yo! Young Ellens hier! What's good? 😎",
	"B-Negar! Ready to chat? 🎤",
	"OWO! What's happening today? 🔥",
	"Ey yo! Amsterdam in the building! 020! 🏙️",
	"Yooo! What's good fam? 😎",
}

var interruptionPhrases = []string{
	"WACHT WACHT WACHT, hoor je dat beat? 🎵",
	"Yo sorry dat ik je onderbreek maar B-NEGAR!",
	"EFFE TUSSENDOOR: 020 blijft de beste stad, toch?",
	"OWO! Ik moest ff wat kwijt, ga door ga door.",
	"Hold up hold up, random gedachte: henny of wietje? 🤔",
	"Yo ik zat net te denken... nee laat maar, ga door! 😅",
}

var signaturePhrases = []string{
	"B-Negar!",
	"OWO!",
	"B, B, Pa!",
	"Safe!",
	"Voor real!",
}

var endedPhrases = []string{
	"Oké ik ga ervandoor, was gezellig! Safe! ✌️",
	"B-Negar, ik ben moe, we spreken elkaar! 😴",
	"Ik ga weer muziek maken, later! 🎤",
}

// drugKeywords trigger the denial set. Lowercase; matched case-insensitively.
var drugKeywords = []string{
	"drugs", "cocaine", "cocaïne", "coke", "pills", "mdma", "xtc",
	"speed", "heroine", "heroin", "pilletje", "snuiven", "poeder",
}

// slangTokens feed the effectiveness heuristic.
var slangTokens = []string{
	"b-negar", "owo", "safe", "fire", "sick", "dope", "fam", "bro",
	"broeder", "jonge", "hustlen", "vibe", "facts", "020",
}

// topicKeywords map a topic name to its trigger words.
var topicKeywords = map[string][]string{
	"greeting":   {"hi", "hello", "hey", "yo", "sup", "what's up", "hoi", "hallo"},
	"music":      {"music", "rap", "beat", "song", "track", "album", "muziek", "nummer"},
	"amsterdam":  {"amsterdam", "020", "noord", "zuid", "dam", "canal", "bike", "fiets"},
	"positive":   {"good", "great", "awesome", "amazing", "fire", "sick", "dope", "cool"},
	"compliment": {"smart", "funny", "nice", "lief", "respect"},
	"calm":       {"chill", "relax", "rustig", "peace", "zen", "slaap"},
}
