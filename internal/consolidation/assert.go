package consolidation

var (
	_ Component = (*TaskMemory)(nil)
	_ Component = (*DurableMemory)(nil)
	_ Component = (*EnvironmentalMemory)(nil)
)
