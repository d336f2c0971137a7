package jack

// StdlibArity gives the declared parameter count (the OS class's own signature, not
// counting an implicit 'this') for every subroutine of the standard Jack OS library.
// The Compilation Engine uses it as a soft sanity check on stdlib call sites; it is not
// consulted for user-defined classes, whose arity is only known once they're compiled.
var StdlibArity = map[string]int{
	"Math.abs": 1, "Math.multiply": 2, "Math.divide": 2, "Math.min": 2, "Math.max": 2,
	"Math.sqrt": 1,

	"String.new": 1, "String.dispose": 0, "String.length": 0, "String.charAt": 1,
	"String.setCharAt": 2, "String.appendChar": 1, "String.eraseLastChar": 0,
	"String.intValue": 0, "String.setInt": 1,
	"String.newLine": 0, "String.doubleQuote": 0, "String.backSpace": 0,

	"Array.new": 1, "Array.dispose": 0,

	"Output.moveCursor": 2, "Output.printChar": 1, "Output.printString": 1,
	"Output.printInt": 1, "Output.println": 0, "Output.backSpace": 0,

	"Screen.clearScreen": 0, "Screen.setColor": 1, "Screen.drawPixel": 2,
	"Screen.drawLine": 4, "Screen.drawRectangle": 4, "Screen.drawCircle": 3,

	"Keyboard.keyPressed": 0, "Keyboard.readChar": 0, "Keyboard.readLine": 1,
	"Keyboard.readInt": 1,

	"Memory.peek": 1, "Memory.poke": 2, "Memory.alloc": 1, "Memory.deAlloc": 1,

	"Sys.halt": 0, "Sys.error": 1, "Sys.wait": 1, "Sys.init": 0,
}
