package queue

import (
	"fmt"

	"github.com/daktarbari/chamber-core/internal/live"
)

// Pushed events carry a pre-rendered English/Bangla text pair so clients can
// display either without a translation round-trip.

func queueStatusMessage(currentSerial, total int) live.Message {
	return live.Message{
		En: fmt.Sprintf("Now serving serial %d. %d patients in queue.", currentSerial, total),
		Bn: fmt.Sprintf("এখন সিরিয়াল %d চলছে। সারিতে %d জন রোগী আছেন।", currentSerial, total),
	}
}

func yourTurnMessage() live.Message {
	return live.Message{
		En: "It is your turn now. Please come to the chamber.",
		Bn: "এখন আপনার পালা। অনুগ্রহ করে চেম্বারে আসুন।",
	}
}

func approachingMessage(patientsAhead int) live.Message {
	return live.Message{
		En: fmt.Sprintf("Your turn is approaching. %d patient(s) ahead of you.", patientsAhead),
		Bn: fmt.Sprintf("আপনার পালা আসছে। আপনার আগে %d জন রোগী আছেন।", patientsAhead),
	}
}

func delayMessage(minutes int) live.Message {
	return live.Message{
		En: fmt.Sprintf("The doctor is running about %d minutes late.", minutes),
		Bn: fmt.Sprintf("ডাক্তার প্রায় %d মিনিট দেরিতে আসবেন।", minutes),
	}
}

func completedMessage() live.Message {
	return live.Message{
		En: "Your consultation is complete. Get well soon.",
		Bn: "আপনার পরামর্শ সম্পন্ন হয়েছে। দ্রুত সুস্থ হয়ে উঠুন।",
	}
}

func doctorNoteMessage(text string) live.Message {
	return live.Message{En: text, Bn: text}
}
