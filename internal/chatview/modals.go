package chatview

type ModalID string

const (
	ModalCrisis    ModalID = "crisis"
	ModalResources ModalID = "resources"
	ModalRename    ModalID = "rename"
)

// Modals records which modals are open. Open and Close return a new
// value and leave the receiver untouched.
type Modals struct {
	open map[ModalID]bool
}

func (m Modals) IsOpen(id ModalID) bool { return m.open[id] }

func (m Modals) Open(id ModalID) Modals { return m.with(id, true) }

func (m Modals) Close(id ModalID) Modals { return m.with(id, false) }

// Reduce applies the modal-related effects in effs.
func (m Modals) Reduce(effs []Effect) Modals {
	for _, e := range effs {
		if om, ok := e.(OpenModal); ok {
			m = m.Open(om.Modal)
		}
	}
	return m
}

func (m Modals) with(id ModalID, open bool) Modals {
	next := make(map[ModalID]bool, len(m.open)+1)
	for k, v := range m.open {
		if v {
			next[k] = true
		}
	}
	if open {
		next[id] = true
	} else {
		delete(next, id)
	}
	return Modals{open: next}
}
