package menu

// Selection is a single-select list state where picking the selected entry
// again clears it.
type Selection struct {
	index int
}

func NewSelection() Selection {
	return Selection{index: -1}
}

func (s *Selection) Toggle(i int) {
	if s.index == i {
		s.index = -1
		return
	}
	s.index = i
}

func (s *Selection) Selected() (int, bool) {
	return s.index, s.index >= 0
}

func (s *Selection) Clear() {
	s.index = -1
}

func (s *Selection) CanNext() bool {
	return s.index >= 0
}
