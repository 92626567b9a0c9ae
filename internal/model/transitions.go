package model

// transitions is the state diagram staff-driven changes must follow.
// Respond and FileAppeal enforce their own source states.
var transitions = map[Status][]Status{
	StatusPendente:    {StatusEmAndamento, StatusRespondida, StatusProrrogada, StatusArquivada, StatusCancelada},
	StatusEmAndamento: {StatusPendente, StatusRespondida, StatusProrrogada, StatusArquivada, StatusCancelada},
	StatusProrrogada:  {StatusEmAndamento, StatusRespondida, StatusArquivada, StatusCancelada},
	StatusRespondida:  {StatusRecurso, StatusArquivada},
	StatusRecurso:     {StatusRespondida, StatusArquivada},
	StatusArquivada:   {},
	StatusCancelada:   {},
}

// CanTransition reports whether from -> to is an edge of the state diagram.
// Re-applying the current status is not a transition.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanRespond reports whether a response (final or extension) may be recorded.
func CanRespond(s Status) bool {
	return s == StatusPendente || s == StatusEmAndamento || s == StatusProrrogada
}

// CanAppeal reports whether an appeal may be filed. A request already under
// appeal may be escalated to a higher instance.
func CanAppeal(s Status) bool {
	return s == StatusRespondida || s == StatusProrrogada || s == StatusRecurso
}
